package renderer

import (
	"fmt"
	"strings"
)

// Filter is one node of an ffmpeg filter chain.
type Filter interface {
	// Expr renders the node in ffmpeg filter syntax.
	Expr() string
}

// Scale resizes to W x H. FitInside keeps the aspect ratio and shrinks to fit
// the box; H = -1 derives the height from the width.
type Scale struct {
	W, H      int
	FitInside bool
}

func (s Scale) Expr() string {
	if s.FitInside {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", s.W, s.H)
	}
	return fmt.Sprintf("scale=%d:%d", s.W, s.H)
}

// Pad centers the frame on a W x H canvas.
type Pad struct {
	W, H int
}

func (p Pad) Expr() string {
	return fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", p.W, p.H)
}

// SetSAR sets the sample (pixel) aspect ratio.
type SetSAR struct {
	Num, Den int
}

func (s SetSAR) Expr() string {
	if s.Den == 0 || s.Num == s.Den {
		return "setsar=1"
	}
	return fmt.Sprintf("setsar=%d/%d", s.Num, s.Den)
}

// Overlay composites the second input over the first at X, Y. Both are ffmpeg
// expressions (W/H main size, w/h overlay size).
type Overlay struct {
	X, Y string
}

func (o Overlay) Expr() string {
	return fmt.Sprintf("overlay=x=%s:y=%s", o.X, o.Y)
}

// Concat joins N segments, each with V video and A audio streams.
type Concat struct {
	N, V, A int
}

func (c Concat) Expr() string {
	return fmt.Sprintf("concat=n=%d:v=%d:a=%d", c.N, c.V, c.A)
}

// Chain is a linear filter chain between labelled pads. Pad names are given
// without brackets, e.g. "0:v" or "bg0".
type Chain struct {
	Inputs  []string
	Filters []Filter
	Outputs []string
}

func (c Chain) String() string {
	var b strings.Builder
	for _, in := range c.Inputs {
		b.WriteString("[" + in + "]")
	}
	for i, f := range c.Filters {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Expr())
	}
	for _, out := range c.Outputs {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

// Graph is an ordered list of chains, rendered as a -filter_complex value.
type Graph struct {
	Chains []Chain
}

func (g *Graph) Add(c Chain) {
	g.Chains = append(g.Chains, c)
}

func (g Graph) String() string {
	parts := make([]string, len(g.Chains))
	for i, c := range g.Chains {
		parts[i] = c.String()
	}
	return strings.Join(parts, ";")
}

// Count returns how many filters in the graph satisfy match.
func (g Graph) Count(match func(Filter) bool) int {
	n := 0
	for _, c := range g.Chains {
		for _, f := range c.Filters {
			if match(f) {
				n++
			}
		}
	}
	return n
}
