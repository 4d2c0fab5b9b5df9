// Package config loads the service configuration from a JSON file laid over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"qr-shutter-pi/pkg/camera"
)

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Simulator struct {
	Payload          string `json:"payload"`
	FPS              int    `json:"fps"`
	FocusFrames      int    `json:"focusFrames"`
	PrecaptureFrames int    `json:"precaptureFrames"`
	LowLight         bool   `json:"lowLight"`
}

type Config struct {
	// Device is the V4L2 node; ignored when Sim is set.
	Device    string    `json:"device"`
	Sim       bool      `json:"sim"`
	Simulator Simulator `json:"simulator"`

	Mode     string   `json:"mode"`
	Viewport Viewport `json:"viewport"`
	Rotation int      `json:"rotation"`
	// OpenTimeoutMs bounds the wait for the camera open lock.
	OpenTimeoutMs int  `json:"openTimeoutMs"`
	TryHarder     bool `json:"tryHarder"`

	StorageDir   string   `json:"storageDir"`
	Port         int      `json:"port"`
	WebdavPort   int      `json:"webdavPort"`
	AllowOrigins []string `json:"allowOrigins,omitempty"`
	LogLevel     string   `json:"logLevel"`
}

func Default() *Config {
	return &Config{
		Device: "/dev/video0",
		Simulator: Simulator{
			Payload:          "qr-shutter-pi",
			FPS:              15,
			FocusFrames:      5,
			PrecaptureFrames: 3,
		},
		Mode:          camera.ModeScan.String(),
		Viewport:      Viewport{Width: 1280, Height: 960},
		OpenTimeoutMs: int(camera.DefaultOpenLockTimeout / time.Millisecond),
		StorageDir:    "./qr-shutter",
		Port:          9999,
		WebdavPort:    9998,
		LogLevel:      "info",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0640)
}

func (c *Config) Validate() error {
	switch camera.Rotation(c.Rotation) {
	case camera.Rotation0, camera.Rotation90, camera.Rotation180, camera.Rotation270:
	default:
		return fmt.Errorf("rotation must be 0, 90, 180 or 270, got %d", c.Rotation)
	}
	if _, err := camera.ParseCameraMode(c.Mode); err != nil {
		return err
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.Viewport.Width, c.Viewport.Height)
	}
	if c.Port <= 0 || c.Port > 65535 || c.WebdavPort < 0 || c.WebdavPort > 65535 {
		return fmt.Errorf("invalid port %d / webdav port %d", c.Port, c.WebdavPort)
	}
	if c.StorageDir == "" {
		return errors.New("storage dir can not be empty")
	}

	return nil
}

func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutMs) * time.Millisecond
}

func (c *Config) CameraMode() camera.CameraMode {
	mode, _ := camera.ParseCameraMode(c.Mode)
	return mode
}
