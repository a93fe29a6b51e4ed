package main

import (
	"fmt"
	"math"

	"github.com/gdamore/tcell/v2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/host/sim"
)

// Cell is one terminal cell of a rendered frame
type Cell struct {
	Rune  rune
	Style tcell.Style
}

// Frame is a row-major cell buffer flushed to the screen in one pass
type Frame struct {
	W, H  int
	Cells []Cell
}

func NewFrame(w, h int) *Frame {
	f := &Frame{W: w, H: h, Cells: make([]Cell, w*h)}
	f.Clear()
	return f
}

func (f *Frame) Clear() {
	for i := range f.Cells {
		f.Cells[i] = Cell{Rune: ' ', Style: tcell.StyleDefault}
	}
}

func (f *Frame) Set(x, y int, r rune, style tcell.Style) {
	if x < 0 || x >= f.W || y < 0 || y >= f.H {
		return
	}
	f.Cells[y*f.W+x] = Cell{Rune: r, Style: style}
}

func (f *Frame) At(x, y int) Cell {
	if x < 0 || x >= f.W || y < 0 || y >= f.H {
		return Cell{}
	}
	return f.Cells[y*f.W+x]
}

func (f *Frame) Text(x, y int, s string, style tcell.Style) {
	for i, r := range []rune(s) {
		f.Set(x+i, y, r, style)
	}
}

func (f *Frame) Flush(screen tcell.Screen) {
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			c := f.Cells[y*f.W+x]
			screen.SetContent(x, y, c.Rune, nil, c.Style)
		}
	}
	screen.Show()
}

var (
	styleBone     = tcell.StyleDefault.Foreground(tcell.ColorSteelBlue)
	styleDeformed = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleTarget   = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleNode     = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleAxis     = tcell.StyleDefault.Foreground(tcell.ColorDarkSlateGray)
	styleText     = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleDim      = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleHeader   = tcell.StyleDefault.Foreground(tcell.ColorAqua).Bold(true)
)

// Viewport maps the world XY plane onto the cell grid, Y up
// Cells are about twice as tall as wide so Y is squashed by half
type Viewport struct {
	Origin r3.Vec
	Zoom   float64
	W, H   int
}

func (v Viewport) Project(p r3.Vec) (x, y int) {
	dx := (p.X - v.Origin.X) * v.Zoom
	dy := (p.Y - v.Origin.Y) * v.Zoom / 2
	return v.W/2 + int(math.Round(dx)), v.H/2 - int(math.Round(dy))
}

// displaced reports whether the node carries a deformation
func displaced(n *sim.Node) bool {
	return n.LocalTranslate() != (r3.Vec{}) || n.LocalScale() != 1
}

// drawScene renders every node of the given actors; chain order picks the glyph
func drawScene(f *Frame, vp Viewport, actors []*sim.Actor, chains map[host.ActorHandle][]string, focus *sim.Node) {
	ox, oy := vp.Project(r3.Vec{})
	for x := 0; x < f.W; x++ {
		f.Set(x, oy, '·', styleAxis)
	}
	for y := 0; y < f.H; y++ {
		f.Set(ox, y, '·', styleAxis)
	}

	for _, a := range actors {
		bones := chains[a.Handle()]
		for i, name := range bones {
			n, ok := a.SimNode(name)
			if !ok {
				continue
			}
			glyph := 'o'
			switch i {
			case 0:
				glyph = '#'
			case len(bones) - 1:
				glyph = '>'
			}
			style := styleBone
			if displaced(n) {
				style = styleDeformed
			}
			x, y := vp.Project(n.World())
			f.Set(x, y, glyph, style)
		}
	}
	if focus != nil && focus.Valid() {
		x, y := vp.Project(focus.World())
		f.Set(x, y, 'X', styleTarget)
	}
}

// drawPanel writes the side panel from the top-left corner
func drawPanel(f *Frame, x int, lines []panelLine) {
	for i, l := range lines {
		if i >= f.H {
			return
		}
		f.Text(x, i, l.text, l.style)
	}
}

type panelLine struct {
	text  string
	style tcell.Style
}

func header(s string) panelLine { return panelLine{s, styleHeader} }
func text(s string) panelLine   { return panelLine{s, styleText} }
func dim(s string) panelLine    { return panelLine{s, styleDim} }

func formatFocus(name string, n *sim.Node) string {
	if n == nil || !n.Valid() {
		return name + " (gone)"
	}
	p := n.World()
	return fmt.Sprintf("%s at (%.2f, %.2f)", name, p.X, p.Y)
}
