package config

import (
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
)

// Clock is the wall clock corrected by an NTP offset, for boards without
// a battery backed RTC.
type Clock struct {
	offset atomic.Int64
}

func (c *Clock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// Sync queries server once and keeps the measured offset.
func (c *Clock) Sync(cfg NTPConfig) error {
	if cfg.Server == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	resp, err := ntp.QueryWithOptions(cfg.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return err
	}
	if err = resp.Validate(); err != nil {
		return err
	}
	c.offset.Store(int64(resp.ClockOffset))

	return nil
}
