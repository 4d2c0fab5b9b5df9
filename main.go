package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"go.uber.org/zap"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/config"
	"qr-shutter-pi/pkg/decode"
	"qr-shutter-pi/pkg/device/sim"
	"qr-shutter-pi/pkg/device/v4l"
	"qr-shutter-pi/pkg/schedule"
	"qr-shutter-pi/pkg/server"
	"qr-shutter-pi/pkg/storage"
	"qr-shutter-pi/pkg/utils"
	"qr-shutter-pi/pkg/webdav"
)

var (
	configPath = flag.String("config", "./qr-shutter.json", "config file")
	storageDir = flag.String("dir", "", "stills directory, overrides the config")
	port       = flag.Int("port", 0, "ui port, overrides the config")
	useSim     = flag.Bool("sim", false, "use the simulated camera")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
	flag.Parse()
}

func main() {
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if *storageDir != "" {
		cfg.StorageDir = *storageDir
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *useSim {
		cfg.Sim = true
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		logger.Warnf("unknown log level %q, keeping the default", cfg.LogLevel)
	}

	ctx, cancel := utils.SignalContext(context.Background())
	defer cancel()

	// init storage
	stg, err := storage.New(cfg.StorageDir)
	if err != nil {
		logger.Fatal(err)
	}

	var dev camera.Device
	if cfg.Sim {
		logger.Info("using the simulated camera")
		dev = sim.New(sim.Config{
			Payload:          cfg.Simulator.Payload,
			FPS:              cfg.Simulator.FPS,
			FocusFrames:      cfg.Simulator.FocusFrames,
			PrecaptureFrames: cfg.Simulator.PrecaptureFrames,
			FlashRequired:    cfg.Simulator.LowLight,
		})
	} else {
		dev = v4l.New(cfg.Device)
	}

	hub := server.NewHub()
	rotation := camera.Rotation(cfg.Rotation)
	mgr := camera.NewManager(camera.Options{
		Device:      dev,
		Decoder:     decode.NewQR(cfg.TryHarder),
		Listener:    hub,
		Stills:      stg,
		Viewport:    camera.Size{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height},
		Rotation:    func() camera.Rotation { return rotation },
		OpenTimeout: cfg.OpenTimeout(),
		OnTransition: func(from, to camera.CaptureState) {
			logger.Debugf("capture %s -> %s", from, to)
		},
		Now: time.Now,
	})

	if err := mgr.Resume(ctx); err != nil {
		logger.Errorf("open camera: %s", err)
	}
	// stored until the session is configured
	if err := mgr.ChangeMode(cfg.CameraMode()); err != nil && !errors.Is(err, camera.ErrNoSession) {
		logger.Warnf("set initial mode: %s", err)
	}
	defer mgr.Pause()

	dav := webdav.New(ctx, cfg.WebdavPort, stg.ImageDir())
	defer dav.Stop()

	timer := schedule.New(ctx, mgr)
	defer timer.Stop()

	r := server.New(mgr, stg, hub, dav, timer, cfg.AllowOrigins).Router()
	logger.Infof("listening on :%d", cfg.Port)
	if err := utils.ListenAndServe(ctx, r, cfg.Port); err != nil {
		logger.Error(err)
	}
}
