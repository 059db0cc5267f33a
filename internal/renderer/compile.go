package renderer

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ivlev/scene2video/internal/config"
	"github.com/ivlev/scene2video/internal/source"
)

var ErrNoScenes = errors.New("no scenes to compile")

// fallbackLogoMargin is used for positions other than top-left and top-right,
// independent of the configured margin.
const fallbackLogoMargin = 20

type InputKind int

const (
	InputImage InputKind = iota
	InputAudio
	InputLogo
)

func (k InputKind) String() string {
	switch k {
	case InputImage:
		return "image"
	case InputAudio:
		return "audio"
	case InputLogo:
		return "logo"
	}
	return "unknown"
}

// Input is one -i declaration. Index is its position on the command line,
// which is how the graph refers to it.
type Input struct {
	Index      int
	Kind       InputKind
	Path       string
	SceneIndex int
	// Loop and Duration apply to still images only.
	Loop     bool
	Duration float64
}

// Plan is everything the transcoder needs besides the output path.
type Plan struct {
	Inputs   []Input
	Graph    Graph
	VideoOut string
	AudioOut string
	Scenes   int
}

func (p *Plan) FilterComplex() string {
	return p.Graph.String()
}

// TotalDuration is the sum of the still-image durations, which is the
// expected length of the output.
func (p *Plan) TotalDuration() float64 {
	total := 0.0
	for _, in := range p.Inputs {
		if in.Kind == InputImage {
			total += in.Duration
		}
	}
	return total
}

// Compile declares inputs and builds the filter graph for scenes, which must
// already be in ascending index order with durations probed. Inputs are
// numbered image, audio, then logo per scene, and the concat node pairs each
// scene's video with its own audio by those numbers.
func Compile(scenes []source.Scene, cfg config.RenderConfig) (*Plan, error) {
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}

	w, h := cfg.VideoSettings.Width, cfg.VideoSettings.Height
	logoX, logoY := LogoOffset(cfg.LogoOverlay)

	plan := &Plan{
		VideoOut: "v",
		AudioOut: "a",
		Scenes:   len(scenes),
	}
	next := 0
	declare := func(in Input) int {
		in.Index = next
		plan.Inputs = append(plan.Inputs, in)
		next++
		return in.Index
	}

	var concatIn []string
	for i, scene := range scenes {
		if scene.Duration <= 0 {
			return nil, fmt.Errorf("scene %d has no duration", scene.Index)
		}

		img := declare(Input{Kind: InputImage, Path: scene.ImagePath, SceneIndex: scene.Index, Loop: true, Duration: scene.Duration})
		aud := declare(Input{Kind: InputAudio, Path: scene.AudioPath, SceneIndex: scene.Index})

		videoLabel := "v" + strconv.Itoa(i)
		fit := []Filter{
			Scale{W: w, H: h, FitInside: true},
			Pad{W: w, H: h},
			SetSAR{Num: 1, Den: 1},
		}

		if scene.HasLogo() && cfg.LogoOverlay.Enabled {
			logo := declare(Input{Kind: InputLogo, Path: scene.LogoPath, SceneIndex: scene.Index})
			bg := "bg" + strconv.Itoa(i)
			logoLabel := "logo" + strconv.Itoa(i)

			plan.Graph.Add(Chain{Inputs: []string{stream(img, "v")}, Filters: fit, Outputs: []string{bg}})
			plan.Graph.Add(Chain{
				Inputs:  []string{stream(logo, "v")},
				Filters: []Filter{Scale{W: cfg.LogoOverlay.Width, H: -1}},
				Outputs: []string{logoLabel},
			})
			plan.Graph.Add(Chain{
				Inputs:  []string{bg, logoLabel},
				Filters: []Filter{Overlay{X: logoX, Y: logoY}},
				Outputs: []string{videoLabel},
			})
		} else {
			plan.Graph.Add(Chain{Inputs: []string{stream(img, "v")}, Filters: fit, Outputs: []string{videoLabel}})
		}

		concatIn = append(concatIn, videoLabel, stream(aud, "a"))
	}

	plan.Graph.Add(Chain{
		Inputs:  concatIn,
		Filters: []Filter{Concat{N: len(scenes), V: 1, A: 1}},
		Outputs: []string{plan.VideoOut, plan.AudioOut},
	})
	return plan, nil
}

// LogoOffset returns the overlay x/y expressions for a corner. Positions other
// than top-left map to the top-right corner; unknown positions always use a
// 20px margin, matching the long-standing output for those configs.
func LogoOffset(lo config.LogoOverlay) (x, y string) {
	switch lo.Position {
	case config.PositionTopLeft:
		m := strconv.Itoa(lo.Margin)
		return m, m
	case config.PositionTopRight:
		m := strconv.Itoa(lo.Margin)
		return "W-w-" + m, m
	default:
		m := strconv.Itoa(fallbackLogoMargin)
		return "W-w-" + m, m
	}
}

func stream(input int, kind string) string {
	return strconv.Itoa(input) + ":" + kind
}
