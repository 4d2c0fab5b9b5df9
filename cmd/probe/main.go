package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/goccy/go-json"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/device/v4l"
)

type report struct {
	Camera   camera.Characteristics   `json:"camera"`
	Iso      camera.SupportedRange    `json:"iso"`
	Exposure camera.SupportedRange    `json:"exposure"`
	Formats  map[string][]camera.Size `json:"formats"`
}

func main() {
	devName := v4l.DefaultDevice
	flag.StringVar(&devName, "d", devName, "device name (path)")
	ctrls := flag.Bool("ctrls", false, "also print the known controls")
	flag.Parse()

	dev := v4l.New(devName)
	cams, err := dev.Cameras()
	if err != nil {
		log.Fatalf("failed to probe device: %s", err)
	}
	formats, err := dev.Formats()
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	for _, info := range cams {
		r := report{
			Camera:   info,
			Iso:      camera.SupportedIso(info.IsoRange),
			Exposure: camera.SupportedExposures(info.ExposureRange),
			Formats:  formats,
		}
		if err := enc.Encode(r); err != nil {
			log.Fatal(err)
		}
	}

	if !*ctrls {
		return
	}
	lines, err := dev.Controls()
	if err != nil {
		log.Fatal(err)
	}
	for _, l := range lines {
		fmt.Print(l)
	}
}
