// Package console prints the coloured status banners shown between build
// and deploy phases.
package console

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

var (
	infoStyle    = color.New(color.FgWhite).AddBgRGB(0x56, 0x3c, 0xe7)
	successStyle = color.New(color.FgWhite).AddBgRGB(0x00, 0xb8, 0x94)
	warnStyle    = color.New(color.FgBlack).AddBgRGB(0xfd, 0xcb, 0x6e)
)

// Console writes banners to an output stream. It is safe for concurrent use.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Console writing to w, or stdout when w is nil
func New(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

// Info prints a neutral progress banner
func (c *Console) Info(msg string) {
	c.print(infoStyle, msg)
}

// Success prints a completion banner
func (c *Console) Success(msg string) {
	c.print(successStyle, msg)
}

// Warn prints a warning banner
func (c *Console) Warn(msg string) {
	c.print(warnStyle, msg)
}

func (c *Console) print(style *color.Color, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = style.Fprintln(c.w, "["+msg+"]")
}
