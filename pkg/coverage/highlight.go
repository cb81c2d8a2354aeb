package coverage

import (
	"sort"

	"github.com/stable-net/evmcov/pkg/pcmap"
	"github.com/stable-net/evmcov/pkg/source"
	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// Color classifies how well a span is covered.
type Color string

const (
	Green  Color = "green"
	Yellow Color = "yellow"
	Orange Color = "orange"
	Red    Color = "red"
)

// Highlight colours one statement or branch span.
type Highlight struct {
	Path     string         `json:"path"`
	Function string         `json:"function"`
	Span     sourcemap.Span `json:"span"`
	ID       int            `json:"id"`
	Branch   bool           `json:"branch"`
	Color    Color          `json:"color"`
}

// Highlights classifies every statement and branch of a contract. A branch
// hit on one side only is yellow when that side is the one the surrounding
// source suggests, orange otherwise. texts maps paths to source text.
func Highlights(result *pcmap.Result, hits map[string]*Hits, texts map[string]string) []Highlight {
	var out []Highlight
	empty := NewHits()

	for path, fns := range result.Statements {
		h := hits[path]
		if h == nil {
			h = empty
		}
		for fn, stmts := range fns {
			for id, span := range stmts {
				color := Red
				if h.Statements.Contains(id) {
					color = Green
				}
				out = append(out, Highlight{Path: path, Function: fn, Span: span, ID: id, Color: color})
			}
		}
	}

	for path, fns := range result.Branches {
		h := hits[path]
		if h == nil {
			h = empty
		}
		for fn, branches := range fns {
			for id, b := range branches {
				out = append(out, Highlight{
					Path:     path,
					Function: fn,
					Span:     b.Span,
					ID:       id,
					Branch:   true,
					Color:    branchColor(h.True.Contains(id), h.False.Contains(id), texts[path], b.Span),
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func branchColor(jumped, fell bool, text string, span sourcemap.Span) Color {
	switch {
	case jumped && fell:
		return Green
	case !jumped && !fell:
		return Red
	}
	expected := source.ExpectsJump(text, span)
	if jumped == expected {
		return Yellow
	}
	return Orange
}
