package browser

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

var _ Driver = (*Fake)(nil)

// Element is a node of a Fake page.
type Element struct {
	Editor bool
	Text   string

	// Href is followed when the element is clicked.
	Href string

	// NoAPI hides the element's scripting API from API inserts.
	NoAPI bool
}

// Page is a document served by a Fake driver.
type Page struct {
	Title    string
	Elements map[string]*Element
}

// Fake is an in-memory Driver. It backs the stub driver and tests.
type Fake struct {
	mu        sync.Mutex
	pages     map[string]*Page
	redirects map[string]string
	url       string
	delay     time.Duration
	actions   []string
}

func NewFake(start string) *Fake {
	return &Fake{
		pages:     map[string]*Page{},
		redirects: map[string]string{},
		url:       start,
	}
}

// AddPage serves title and elements at url.
func (f *Fake) AddPage(url, title string, elements map[string]*Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if elements == nil {
		elements = map[string]*Element{}
	}
	f.pages[url] = &Page{Title: title, Elements: elements}
}

// Redirect makes navigation to from land on to.
func (f *Fake) Redirect(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects[from] = to
}

// SetDelay makes every action take d before it settles.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Actions returns the actions performed so far.
func (f *Fake) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.actions)
}

// URL returns the current location.
func (f *Fake) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *Fake) settle(ctx context.Context, action string) error {
	f.mu.Lock()
	d := f.delay
	f.actions = append(f.actions, action)
	f.mu.Unlock()

	if d == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// element must be called with mu held.
func (f *Fake) element(selector string) (*Element, error) {
	if p, ok := f.pages[f.url]; ok {
		if el, ok := p.Elements[selector]; ok {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoElement, selector)
}

// editor must be called with mu held.
func (f *Fake) editor(selector string) *Element {
	p, ok := f.pages[f.url]
	if !ok {
		return nil
	}
	if selector != "" {
		return p.Elements[selector]
	}
	keys := make([]string, 0, len(p.Elements))
	for k, el := range p.Elements {
		if el.Editor {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	slices.Sort(keys)
	return p.Elements[keys[0]]
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := f.settle(ctx, "navigate "+url); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if to, ok := f.redirects[url]; ok {
		url = to
	}
	f.url = url
	return nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := f.settle(ctx, "click "+selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, err := f.element(selector)
	if err != nil {
		return err
	}
	if el.Href != "" {
		f.url = el.Href
		if to, ok := f.redirects[el.Href]; ok {
			f.url = to
		}
	}
	return nil
}

func (f *Fake) Type(ctx context.Context, selector, text string) error {
	if err := f.settle(ctx, "type "+selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, err := f.element(selector)
	if err != nil {
		return err
	}
	el.Text += text
	return nil
}

func (f *Fake) Insert(ctx context.Context, selector, value string, mode v1.InsertMode, viaAPI bool) error {
	if err := f.settle(ctx, "insert "+selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, err := f.element(selector)
	if err != nil {
		return err
	}
	if viaAPI && (!el.Editor || el.NoAPI) {
		return fmt.Errorf("%w: %s", ErrEditorUnavailable, selector)
	}
	if mode == v1.InsertModeReplace {
		el.Text = value
	} else {
		el.Text += value
	}
	return nil
}

func (f *Fake) Observe(ctx context.Context, selector, lastLine string) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	obs := &Observation{URL: f.url}
	if p, ok := f.pages[f.url]; ok {
		obs.Title = p.Title
	}
	if el := f.editor(selector); el != nil {
		obs.EditorDetected = true
		obs.ContentLength = utf8.RuneCountInString(el.Text)
		obs.LastLinePresent = lastLine != "" && strings.HasSuffix(strings.TrimRight(el.Text, " \t\r\n"), lastLine)
	}
	return obs, nil
}

// Screenshot returns a PNG signature; it is never decoded.
func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (f *Fake) Close() error { return nil }
