package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWidth          = 1920
	DefaultHeight         = 1080
	DefaultOutputFileName = "final_video.mp4"

	PositionTopRight = "top-right"
	PositionTopLeft  = "top-left"

	DefaultLogoWidth  = 150
	DefaultLogoMargin = 20
)

// RenderConfig is loaded once per render and treated as immutable afterwards.
type RenderConfig struct {
	VideoSettings VideoSettings `yaml:"videoSettings" json:"videoSettings"`
	LogoOverlay   LogoOverlay   `yaml:"logoOverlay" json:"logoOverlay"`
}

type VideoSettings struct {
	Width          int    `yaml:"width" json:"width"`
	Height         int    `yaml:"height" json:"height"`
	OutputFileName string `yaml:"outputFileName" json:"outputFileName"`
}

type LogoOverlay struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Position string `yaml:"position" json:"position"`
	Width    int    `yaml:"width" json:"width"`
	Margin   int    `yaml:"margin" json:"margin"`
}

// Default returns the configuration used when no file is given.
func Default() RenderConfig {
	return RenderConfig{
		VideoSettings: VideoSettings{
			Width:          DefaultWidth,
			Height:         DefaultHeight,
			OutputFileName: DefaultOutputFileName,
		},
		LogoOverlay: LogoOverlay{
			Enabled:  false,
			Position: PositionTopRight,
			Width:    DefaultLogoWidth,
			Margin:   DefaultLogoMargin,
		},
	}
}

// Load reads a render configuration from path. An empty path or a missing
// file yields Default(). Files ending in .json are decoded as JSON, anything
// else as YAML; both use the same keys.
func Load(path string) (RenderConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults restores zero sizes and empty strings field by field, so a
// file that writes 0 or "" means "use the default". Margin is exempt since 0
// is a real placement. Position is only replaced when blank so unknown values
// reach the compiler as written.
func (c *RenderConfig) applyDefaults() {
	vs := &c.VideoSettings
	if vs.Width == 0 {
		vs.Width = DefaultWidth
	}
	if vs.Height == 0 {
		vs.Height = DefaultHeight
	}
	if vs.OutputFileName == "" {
		vs.OutputFileName = DefaultOutputFileName
	}
	lo := &c.LogoOverlay
	if lo.Width == 0 {
		lo.Width = DefaultLogoWidth
	}
	if lo.Position == "" {
		lo.Position = PositionTopRight
	}
}

func (c RenderConfig) Validate() error {
	vs := c.VideoSettings
	if vs.Width <= 0 || vs.Height <= 0 {
		return fmt.Errorf("invalid canvas %dx%d", vs.Width, vs.Height)
	}
	// yuv420p needs even dimensions.
	if vs.Width%2 != 0 || vs.Height%2 != 0 {
		return fmt.Errorf("canvas %dx%d must have even dimensions", vs.Width, vs.Height)
	}
	if vs.OutputFileName != filepath.Base(vs.OutputFileName) || vs.OutputFileName == "." || vs.OutputFileName == ".." {
		return fmt.Errorf("outputFileName %q must be a plain file name", vs.OutputFileName)
	}
	if c.LogoOverlay.Enabled && c.LogoOverlay.Width <= 0 {
		return fmt.Errorf("logoOverlay.width must be positive, got %d", c.LogoOverlay.Width)
	}
	if c.LogoOverlay.Margin < 0 {
		return fmt.Errorf("logoOverlay.margin %d is negative", c.LogoOverlay.Margin)
	}
	return nil
}
