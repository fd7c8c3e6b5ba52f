// Package browser drives the page that relay-agent acts on and measures the
// state an action left behind.
package browser

import (
	"context"
	"errors"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

var (
	// ErrNoElement is returned when a selector matches nothing in the page.
	ErrNoElement = errors.New("no element matches selector")

	// ErrEditorUnavailable is returned when no scripting API of a known editor is reachable.
	ErrEditorUnavailable = errors.New("editor api unavailable")
)

// Observation is what the page looked like when it was measured.
type Observation struct {
	URL   string
	Title string

	EditorDetected  bool
	ContentLength   int
	LastLinePresent bool
}

// Signals converts the observation into reportable DOM signals.
func (o *Observation) Signals() v1.DomSignals {
	if o == nil {
		return v1.DomSignals{}
	}
	return v1.DomSignals{
		EditorDetected:  o.EditorDetected,
		ContentLength:   o.ContentLength,
		LastLinePresent: o.LastLinePresent,
	}
}

// Driver performs actions in a single page. Every call honors the deadline
// of ctx and returns ctx.Err() when it expires first.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error

	// Insert places value in the editor at selector. With viaAPI the editor's
	// own scripting API is used instead of input events.
	Insert(ctx context.Context, selector, value string, mode v1.InsertMode, viaAPI bool) error

	// Observe measures the page. selector scopes the editor lookup and may be
	// empty; lastLine is checked for at the end of the editor content.
	Observe(ctx context.Context, selector, lastLine string) (*Observation, error)

	Screenshot(ctx context.Context) ([]byte, error)

	Close() error
}
