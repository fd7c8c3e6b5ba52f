package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// CommandType selects the payload variant and the agent-side handler.
type CommandType string

const (
	CommandTypeNavigate      CommandType = "navigate"
	CommandTypeClick         CommandType = "click"
	CommandTypeType          CommandType = "type"
	CommandTypeInsertContent CommandType = "insert_content"
	CommandTypeInsertViaAPI  CommandType = "insert_via_api"
	CommandTypeScanPage      CommandType = "scan_page"
)

// CommandTypes lists every supported command type.
var CommandTypes = []CommandType{
	CommandTypeNavigate,
	CommandTypeClick,
	CommandTypeType,
	CommandTypeInsertContent,
	CommandTypeInsertViaAPI,
	CommandTypeScanPage,
}

// ErrUnknownCommandType is returned when a command type has no payload variant.
var ErrUnknownCommandType = errors.New("unknown command type")

// Payload is one variant of the command payload union.
type Payload interface {
	// CommandType is the tag of the variant.
	CommandType() CommandType

	// Validate checks the variant's own schema.
	Validate() error

	// DefaultCriteria are the signals a successful execution is expected to
	// produce when the planner declared none.
	DefaultCriteria() []string
}

// InsertMode controls whether inserted content extends or replaces the editor text.
type InsertMode string

const (
	InsertModeAppend  InsertMode = "append"
	InsertModeReplace InsertMode = "replace"
)

type NavigatePayload struct {
	URL    string `json:"url"`
	WaitMs int    `json:"wait_ms,omitempty"`
}

func (NavigatePayload) CommandType() CommandType { return CommandTypeNavigate }

func (p NavigatePayload) Validate() error {
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", p.URL)
	}
	if p.WaitMs < 0 || p.WaitMs > 60_000 {
		return fmt.Errorf("wait_ms must be within [0, 60000]")
	}
	return nil
}

func (p NavigatePayload) DefaultCriteria() []string {
	return []string{"url_changed == true"}
}

type ClickPayload struct {
	Selector string `json:"selector"`
}

func (ClickPayload) CommandType() CommandType { return CommandTypeClick }

func (p ClickPayload) Validate() error { return requireSelector(p.Selector) }

func (p ClickPayload) DefaultCriteria() []string {
	return []string{`url_after != ""`}
}

type TypePayload struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

func (TypePayload) CommandType() CommandType { return CommandTypeType }

func (p TypePayload) Validate() error {
	if err := requireSelector(p.Selector); err != nil {
		return err
	}
	if p.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

func (p TypePayload) DefaultCriteria() []string {
	return []string{deltaCriterion(p.Text)}
}

type InsertContentPayload struct {
	Selector string     `json:"selector"`
	Value    string     `json:"value"`
	Mode     InsertMode `json:"mode,omitempty"`
}

func (InsertContentPayload) CommandType() CommandType { return CommandTypeInsertContent }

func (p InsertContentPayload) Validate() error { return validateInsert(p.Selector, p.Value, p.Mode) }

func (p InsertContentPayload) DefaultCriteria() []string { return insertCriteria(p.Value, p.Mode) }

// InsertViaAPIPayload inserts through the editor's own scripting API instead
// of simulated input events.
type InsertViaAPIPayload struct {
	Selector string     `json:"selector"`
	Value    string     `json:"value"`
	Mode     InsertMode `json:"mode,omitempty"`
}

func (InsertViaAPIPayload) CommandType() CommandType { return CommandTypeInsertViaAPI }

func (p InsertViaAPIPayload) Validate() error { return validateInsert(p.Selector, p.Value, p.Mode) }

func (p InsertViaAPIPayload) DefaultCriteria() []string { return insertCriteria(p.Value, p.Mode) }

type ScanPagePayload struct {
	Selector string `json:"selector,omitempty"`
}

func (ScanPagePayload) CommandType() CommandType { return CommandTypeScanPage }

func (ScanPagePayload) Validate() error { return nil }

func (ScanPagePayload) DefaultCriteria() []string {
	return []string{`url_after != ""`}
}

// DecodePayload decodes raw into the variant selected by t. Unknown fields
// and trailing data are rejected, and the variant is validated.
func DecodePayload(t CommandType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case CommandTypeNavigate:
		p = &NavigatePayload{}
	case CommandTypeClick:
		p = &ClickPayload{}
	case CommandTypeType:
		p = &TypePayload{}
	case CommandTypeInsertContent:
		p = &InsertContentPayload{}
	case CommandTypeInsertViaAPI:
		p = &InsertViaAPIPayload{}
	case CommandTypeScanPage:
		p = &ScanPagePayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, t)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode %s payload: trailing data", t)
	}

	// Variants are stored as values so callers can type-switch on them.
	v := deref(p)
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", t, err)
	}
	return v, nil
}

// EncodePayload marshals a payload variant.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.CommandType(), err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *NavigatePayload:
		return *v
	case *ClickPayload:
		return *v
	case *TypePayload:
		return *v
	case *InsertContentPayload:
		return *v
	case *InsertViaAPIPayload:
		return *v
	case *ScanPagePayload:
		return *v
	}
	return p
}

func requireSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return errors.New("selector is required")
	}
	return nil
}

func validateInsert(selector, value string, mode InsertMode) error {
	if err := requireSelector(selector); err != nil {
		return err
	}
	if value == "" {
		return errors.New("value is required")
	}
	switch mode {
	case "", InsertModeAppend, InsertModeReplace:
	default:
		return fmt.Errorf("mode must be %q or %q", InsertModeAppend, InsertModeReplace)
	}
	return nil
}

// insertCriteria expects appended content to grow the editor by the value.
// A replace can shrink the editor, so only the final length is checked.
func insertCriteria(value string, mode InsertMode) []string {
	if mode == InsertModeReplace {
		return []string{
			"editor_detected == true",
			fmt.Sprintf("content_length >= %d", utf8.RuneCountInString(value)),
		}
	}
	return []string{"editor_detected == true", deltaCriterion(value)}
}

func deltaCriterion(text string) string {
	return fmt.Sprintf("%s%s >= %d", ExtraPrefix, SignalContentDelta, utf8.RuneCountInString(text))
}
