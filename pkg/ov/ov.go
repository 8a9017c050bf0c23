// Package ov holds the request and response objects of the HTTP API.
package ov

import (
	"github.com/vladimirvivien/go4vl/v4l2"
)

type Control struct {
	ID    v4l2.CtrlID    `json:"id"`
	Value v4l2.CtrlValue `json:"value"`
	Name  string         `json:"name"`

	IsMenu bool `json:"isMenu"`

	MenuItems []string `json:"menuItems,omitempty"`

	Minimum int32 `json:"minimum"`
	Maximum int32 `json:"maximum"`
	Step    int32 `json:"step"`
}

type UpdateControl struct {
	ID    v4l2.CtrlID    `json:"id" binding:"required"`
	Value v4l2.CtrlValue `json:"value"`
}

type SelectOverlay struct {
	// ID is empty to clear the selection.
	ID string `json:"id"`
}

type PhotoFormat struct {
	Format string `json:"format" binding:"required"`
}

type Touch struct {
	Phase   string  `json:"phase" binding:"required"`
	Touches []Point `json:"touches"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type TapResult struct {
	Accepted bool `json:"accepted"`
}

type Facing struct {
	Facing string `json:"facing"`
}

type Saved struct {
	Name string `json:"name"`
}

type Webdav struct {
	Running bool   `json:"running"`
	Port    int    `json:"port"`
	Host    string `json:"host,omitempty"`
}
