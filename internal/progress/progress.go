// Package progress defines the observer injected into the test pipeline.
// Components emit events; consumers render them however they like.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Event is a single progress update during a batch run.
type Event struct {
	Type     string  `json:"type"` // "info", "item", "score", "error", "category"
	Index    int     `json:"index,omitempty"`
	Total    int     `json:"total,omitempty"`
	Category string  `json:"category,omitempty"`
	Item     string  `json:"item,omitempty"`
	Message  string  `json:"message,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Cost     float64 `json:"cost,omitempty"`
	Err      string  `json:"error,omitempty"`
}

// Emitter receives progress events during a run.
type Emitter interface {
	Emit(event Event)
}

// Emit sends an event via the emitter, if set.
func Emit(e Emitter, ev Event) {
	if e != nil {
		e.Emit(ev)
	}
}

// TextEmitter renders events as human-readable lines. Colors and the spinner
// are disabled automatically when the writer is not a terminal.
type TextEmitter struct {
	W     io.Writer
	tty   bool
	spin  *spinner.Spinner
	dim   *color.Color
	good  *color.Color
	bad   *color.Color
}

// NewTextEmitter creates a TextEmitter for w.
func NewTextEmitter(w io.Writer) *TextEmitter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &TextEmitter{
		W:    w,
		tty:  tty,
		dim:  color.New(color.FgHiBlack),
		good: color.New(color.FgGreen),
		bad:  color.New(color.FgRed),
	}
}

// Emit writes a formatted progress line to the underlying writer.
func (e *TextEmitter) Emit(ev Event) {
	e.stopSpinner()
	switch ev.Type {
	case "category":
		fmt.Fprintf(e.W, "\n%s\n", ev.Category)
		_, _ = e.dim.Fprintln(e.W, "----------------------------------------")
	case "item":
		fmt.Fprintf(e.W, "[%d/%d] %s\n", ev.Index, ev.Total, ev.Item)
		e.startSpinner()
	case "score":
		_, _ = e.good.Fprintf(e.W, "  score %.3f", ev.Score)
		_, _ = e.dim.Fprintf(e.W, "  cost $%.6f\n", ev.Cost)
	case "error":
		_, _ = e.bad.Fprintf(e.W, "  failed: %s\n", ev.Err)
	case "info":
		fmt.Fprintf(e.W, "  %s\n", ev.Message)
	}
}

// Close stops any running spinner.
func (e *TextEmitter) Close() {
	e.stopSpinner()
}

func (e *TextEmitter) startSpinner() {
	if !e.tty {
		return
	}
	e.spin = spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(e.W))
	e.spin.Start()
}

func (e *TextEmitter) stopSpinner() {
	if e.spin != nil {
		e.spin.Stop()
		e.spin = nil
	}
}
