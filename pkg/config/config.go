// Package config loads the process configuration from flags and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eupho-cam/pkg/types"
)

type Config struct {
	StorageDir string          `yaml:"storage_dir"`
	StaticsDir string          `yaml:"statics_dir"`
	Port       int             `yaml:"port"`
	WebdavPort int             `yaml:"webdav_port"`
	LogLevel   string          `yaml:"log_level"`
	Camera     CameraConfig    `yaml:"camera"`
	Recording  RecordingConfig `yaml:"recording"`
	Overlays   []OverlayConfig `yaml:"overlays"`
	NTP        NTPConfig       `yaml:"ntp"`
}

type CameraConfig struct {
	Front         string   `yaml:"front"` // e.g. /dev/video2, empty when absent
	Back          string   `yaml:"back"`
	DefaultFacing string   `yaml:"default_facing"`
	Width         int      `yaml:"width"` // ideal size, the device max is used when smaller
	Height        int      `yaml:"height"`
	FPS           int      `yaml:"fps"`
	Audio         []string `yaml:"audio"` // ALSA sources such as hw:1,0
}

type RecordingConfig struct {
	// Preferences is the ordered codec table, first supported wins.
	Preferences   []string `yaml:"preferences"`
	FFmpeg        string   `yaml:"ffmpeg"`
	BitrateBps    int      `yaml:"bitrate_bps"`
	TimesliceMS   int      `yaml:"timeslice_ms"`
	SettleDelayMS int      `yaml:"settle_delay_ms"`
	FPS           int      `yaml:"fps"`
}

type OverlayConfig struct {
	ID          string `yaml:"id"`
	Source      string `yaml:"source"` // file path or http(s) URL
	Description string `yaml:"description"`
	Hint        string `yaml:"hint"`
}

type NTPConfig struct {
	Server   string `yaml:"server"` // empty disables the offset
	TimeoutS int    `yaml:"timeout_s"`
}

func Default() *Config {
	return &Config{
		StorageDir: "./eupho-cam",
		StaticsDir: "./statics",
		Port:       9999,
		WebdavPort: 9998,
		LogLevel:   "info",
		Camera: CameraConfig{
			Back:          "/dev/video0",
			DefaultFacing: string(types.FacingBack),
			Width:         4096,
			Height:        2160,
			FPS:           30,
		},
		Recording: RecordingConfig{
			Preferences: []string{
				"video/mp4;codecs=avc1",
				"video/webm;codecs=vp8",
				"video/webm",
				"video/mp4",
				"video/x-msvideo;codecs=mjpeg",
			},
			FFmpeg:        "ffmpeg",
			BitrateBps:    4_000_000,
			TimesliceMS:   500,
			SettleDelayMS: 250,
			FPS:           30,
		},
		NTP: NTPConfig{TimeoutS: 5},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, Validate(cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func Validate(cfg *Config) error {
	var errs []error
	if cfg.StorageDir == "" {
		errs = append(errs, errors.New("storage_dir is required"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}
	if cfg.WebdavPort <= 0 || cfg.WebdavPort > 65535 || cfg.WebdavPort == cfg.Port {
		errs = append(errs, fmt.Errorf("webdav_port %d invalid", cfg.WebdavPort))
	}
	if !types.FacingMode(cfg.Camera.DefaultFacing).Valid() {
		errs = append(errs, fmt.Errorf("camera.default_facing %q must be front or back", cfg.Camera.DefaultFacing))
	}
	if cfg.Camera.Front == "" && cfg.Camera.Back == "" {
		errs = append(errs, errors.New("at least one of camera.front and camera.back is required"))
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 || cfg.Camera.FPS < 0 {
		errs = append(errs, errors.New("camera size and fps must not be negative"))
	}
	if len(cfg.Recording.Preferences) == 0 {
		errs = append(errs, errors.New("recording.preferences is empty"))
	}
	for _, p := range cfg.Recording.Preferences {
		if !strings.HasPrefix(p, "video/") {
			errs = append(errs, fmt.Errorf("recording preference %q is not a video mime type", p))
		}
	}
	if cfg.Recording.BitrateBps <= 0 || cfg.Recording.TimesliceMS <= 0 || cfg.Recording.FPS <= 0 {
		errs = append(errs, errors.New("recording bitrate, timeslice and fps must be positive"))
	}
	if cfg.Recording.SettleDelayMS < 0 {
		errs = append(errs, errors.New("recording.settle_delay_ms must not be negative"))
	}
	seen := map[string]bool{}
	for i, o := range cfg.Overlays {
		if o.ID == "" || o.Source == "" {
			errs = append(errs, fmt.Errorf("overlay %d needs id and source", i))
		}
		if seen[o.ID] {
			errs = append(errs, fmt.Errorf("duplicate overlay id %q", o.ID))
		}
		seen[o.ID] = true
	}

	return errors.Join(errs...)
}

// Devices maps each configured facing mode to its device path.
func (c *Config) Devices() map[types.FacingMode]string {
	res := map[types.FacingMode]string{}
	if c.Camera.Front != "" {
		res[types.FacingFront] = c.Camera.Front
	}
	if c.Camera.Back != "" {
		res[types.FacingBack] = c.Camera.Back
	}
	return res
}

func (c *Config) Facing() types.FacingMode {
	return types.FacingMode(c.Camera.DefaultFacing)
}

func (r RecordingConfig) Timeslice() time.Duration {
	return time.Duration(r.TimesliceMS) * time.Millisecond
}

func (r RecordingConfig) SettleDelay() time.Duration {
	return time.Duration(r.SettleDelayMS) * time.Millisecond
}
