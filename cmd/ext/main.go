package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/goccy/go-json"
	dev "github.com/vladimirvivien/go4vl/device"

	"eupho-cam/pkg/camera"
)

func main() {
	devName := "/dev/video0"
	flag.StringVar(&devName, "d", devName, "device name (path)")
	caps := flag.Bool("caps", false, "print focus and zoom capabilities instead of controls")
	flag.Parse()

	device, err := dev.Open(devName)
	if err != nil {
		log.Fatalf("failed to open device: %s", err)
	}
	defer device.Close()

	var out any
	if *caps {
		out = camera.QueryCapabilities(device.Fd())
	} else {
		configs, err := camera.KnownControls(device.Fd())
		if err != nil {
			log.Fatal(err)
		}
		out = configs
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
