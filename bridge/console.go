package bridge

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Console is the in-game console the scripting host exposes
type Console interface {
	Print(msg string)
	PrintError(msg string)
}

// ColorConsole writes console lines to w, errors in red
type ColorConsole struct {
	mu    sync.Mutex
	w     io.Writer
	info  *color.Color
	fault *color.Color
}

func NewColorConsole(w io.Writer) *ColorConsole {
	return &ColorConsole{
		w:     w,
		info:  color.New(color.FgCyan),
		fault: color.New(color.FgRed, color.Bold),
	}
}

func (c *ColorConsole) Print(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, c.info.Sprint(msg))
}

func (c *ColorConsole) PrintError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, c.fault.Sprint(msg))
}

// nopConsole discards everything
type nopConsole struct{}

func (nopConsole) Print(string)      {}
func (nopConsole) PrintError(string) {}
