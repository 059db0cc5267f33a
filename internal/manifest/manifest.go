package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/scene2video/internal/config"
	"github.com/ivlev/scene2video/internal/renderer"
	"github.com/ivlev/scene2video/internal/source"
)

const Version = "1.0"

// Manifest describes one render: what went in and the graph that was
// handed to ffmpeg.
type Manifest struct {
	Version  string  `yaml:"version"`
	RenderID string  `yaml:"render_id"`
	Output   string  `yaml:"output"`
	Canvas   Canvas  `yaml:"canvas"`
	Scenes   []Scene `yaml:"scenes"`
	Skipped  []int   `yaml:"skipped,omitempty"`
	Graph    string  `yaml:"filter_complex"`
}

type Canvas struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Scene is one entry of the concatenation, in output order.
type Scene struct {
	Index    int     `yaml:"index"`
	Audio    string  `yaml:"audio"`
	Image    string  `yaml:"image"`
	Logo     string  `yaml:"logo,omitempty"`
	Duration float64 `yaml:"duration"` // seconds
	Size     Size    `yaml:"image_size,omitempty"`
}

type Size struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Format string `yaml:"format,omitempty"`
}

// TotalDuration is the expected length of the output in seconds.
func (m *Manifest) TotalDuration() float64 {
	total := 0.0
	for _, s := range m.Scenes {
		total += s.Duration
	}
	return total
}

// New describes a render of scenes with the compiled plan. Image sizes are
// left for the caller to fill in.
func New(renderID, output string, cfg config.RenderConfig, inv *source.Inventory, plan *renderer.Plan) *Manifest {
	m := &Manifest{
		Version:  Version,
		RenderID: renderID,
		Output:   output,
		Canvas:   Canvas{Width: cfg.VideoSettings.Width, Height: cfg.VideoSettings.Height},
		Skipped:  inv.Skipped,
		Graph:    plan.FilterComplex(),
	}
	for _, sc := range inv.Scenes {
		entry := Scene{
			Index:    sc.Index,
			Audio:    sc.AudioPath,
			Image:    sc.ImagePath,
			Duration: sc.Duration,
		}
		if sc.HasLogo() && cfg.LogoOverlay.Enabled {
			entry.Logo = sc.LogoPath
		}
		m.Scenes = append(m.Scenes, entry)
	}
	return m
}

// Write writes the manifest as YAML, creating the parent directory.
func Write(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}
