package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"eupho-cam/pkg/camera"
	"eupho-cam/pkg/capture"
	"eupho-cam/pkg/compositor"
	"eupho-cam/pkg/overlay"
	"eupho-cam/pkg/storage/export"
	"eupho-cam/pkg/types"
)

// Takes one framed photo from a camera without the web UI.
func main() {
	devName := flag.String("d", "/dev/video0", "device name (path)")
	front := flag.Bool("front", false, "treat the device as the front camera (mirrored)")
	source := flag.String("overlay", "", "overlay image, file or http(s) url")
	format := flag.String("format", "png", "png or jpeg")
	zoom := flag.Float64("zoom", 1, "digital zoom in [1,5]")
	out := flag.String("o", "", "output file, default EuphoCam-<unix ms>.<ext>")
	flag.Parse()

	photoFormat, err := types.ParsePhotoFormat(*format)
	if err != nil {
		log.Fatal(err)
	}
	facing := types.FacingBack
	if *front {
		facing = types.FacingFront
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a := overlay.NewAsset("cli", *source, "", "")
	a.Load(ctx, overlay.DefaultFetcher{})
	if err = a.Wait(ctx); err != nil {
		log.Fatalf("failed to load overlay: %s", err)
	}

	m := camera.NewManager(ctx, camera.V4L2Opener{}, camera.Config{
		Devices: map[types.FacingMode]string{facing: *devName},
	})
	if _, err = m.Acquire(ctx, facing); err != nil {
		log.Fatal(err)
	}
	defer m.Release()
	if err = m.WaitReady(ctx); err != nil {
		log.Fatalf("no frame from %s: %s", *devName, err)
	}
	frame, _ := m.Frame()

	art, err := capture.New(compositor.NewSurface()).CapturePhoto(capture.Input{
		Frame:   frame,
		Overlay: a,
		Zoom:    *zoom,
		Facing:  facing,
	}, photoFormat)
	if err != nil {
		log.Fatal(err)
	}
	name := *out
	if name == "" {
		name = export.FileName(art.CreatedAt, art.Extension)
	}
	if err = os.WriteFile(name, art.Data, 0644); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s (%d bytes)", name, art.Size)
}
