package v1

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SignalKind is the value type of a signal referenced by a criterion.
type SignalKind int

const (
	SignalNumber SignalKind = iota
	SignalBool
	SignalString
)

// Operator is a comparison used in a criterion.
type Operator string

const (
	OpEq       Operator = "=="
	OpNe       Operator = "!="
	OpGt       Operator = ">"
	OpGe       Operator = ">="
	OpLt       Operator = "<"
	OpLe       Operator = "<="
	OpContains Operator = "contains"
)

// ExtraPrefix addresses a signal inside dom_signals.extra.
const ExtraPrefix = "extra."

var knownSignals = map[string]SignalKind{
	"content_length":    SignalNumber,
	"editor_detected":   SignalBool,
	"last_line_present": SignalBool,
	"url_changed":       SignalBool,
	"url_before":        SignalString,
	"url_after":         SignalString,
	"title_after":       SignalString,
}

var criterionRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_.]*)\s*(==|!=|>=|<=|>|<|\scontains\s)\s*(.*?)\s*$`)

// Criterion is a parsed, mechanically checkable success criterion such as
// "content_length > 50" or "editor_detected == true".
type Criterion struct {
	Signal string
	Op     Operator
	Kind   SignalKind

	num  float64
	flag bool
	str  string
	raw  string
}

// String returns the criterion as originally written.
func (c Criterion) String() string { return c.raw }

// Weight is the evidential weight of the criterion. Numeric signals are
// measured in the page and weigh more than flags.
func (c Criterion) Weight() int {
	if c.Kind == SignalNumber {
		return 2
	}
	return 1
}

// ParseCriterion parses a single criterion expression.
func ParseCriterion(s string) (Criterion, error) {
	m := criterionRe.FindStringSubmatch(s)
	if m == nil {
		return Criterion{}, fmt.Errorf("criterion %q: want '<signal> <op> <value>'", s)
	}
	c := Criterion{Signal: m[1], Op: Operator(strings.TrimSpace(m[2])), raw: strings.TrimSpace(s)}
	lit := unquote(m[3])

	kind, known := knownSignals[c.Signal]
	switch {
	case known:
	case strings.HasPrefix(c.Signal, ExtraPrefix) && len(c.Signal) > len(ExtraPrefix):
		kind = inferKind(m[3])
	default:
		return Criterion{}, fmt.Errorf("criterion %q: unknown signal %q", s, c.Signal)
	}
	c.Kind = kind

	switch kind {
	case SignalNumber:
		if c.Op == OpContains {
			return Criterion{}, fmt.Errorf("criterion %q: 'contains' needs a string signal", s)
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Criterion{}, fmt.Errorf("criterion %q: %q is not a number", s, lit)
		}
		c.num = f
	case SignalBool:
		if c.Op != OpEq && c.Op != OpNe {
			return Criterion{}, fmt.Errorf("criterion %q: boolean signals only support == and !=", s)
		}
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return Criterion{}, fmt.Errorf("criterion %q: %q is not a boolean", s, lit)
		}
		c.flag = b
	case SignalString:
		if c.Op != OpEq && c.Op != OpNe && c.Op != OpContains {
			return Criterion{}, fmt.Errorf("criterion %q: string signals only support ==, != and contains", s)
		}
		c.str = lit
	}

	return c, nil
}

// ParseCriteria parses every expression, reporting the first failure.
func ParseCriteria(exprs []string) ([]Criterion, error) {
	out := make([]Criterion, 0, len(exprs))
	for _, e := range exprs {
		c, err := ParseCriterion(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Evaluation is the outcome of checking one criterion against evidence.
type Evaluation struct {
	Criterion Criterion
	Held      bool
	Observed  string
}

// Evaluate checks the criterion against the signals of r. A signal that is
// absent or of the wrong type never holds.
func (c Criterion) Evaluate(r *ExecutionResult) Evaluation {
	ev := Evaluation{Criterion: c, Observed: "<absent>"}
	if r == nil {
		return ev
	}

	v, ok := lookupSignal(c.Signal, r)
	if !ok {
		return ev
	}
	ev.Observed = fmt.Sprint(v)

	switch c.Kind {
	case SignalNumber:
		f, ok := toFloat(v)
		if !ok {
			return ev
		}
		ev.Held = compareNumber(f, c.Op, c.num)
	case SignalBool:
		b, ok := v.(bool)
		if !ok {
			return ev
		}
		ev.Held = (b == c.flag) == (c.Op == OpEq)
	case SignalString:
		s, ok := v.(string)
		if !ok {
			return ev
		}
		switch c.Op {
		case OpEq:
			ev.Held = s == c.str
		case OpNe:
			ev.Held = s != c.str
		case OpContains:
			ev.Held = strings.Contains(s, c.str)
		}
	}
	return ev
}

func lookupSignal(name string, r *ExecutionResult) (any, bool) {
	switch name {
	case "content_length":
		return r.DomSignals.ContentLength, true
	case "editor_detected":
		return r.DomSignals.EditorDetected, true
	case "last_line_present":
		return r.DomSignals.LastLinePresent, true
	case "url_changed":
		return r.URLBefore != r.URLAfter && r.URLAfter != "", true
	case "url_before":
		return r.URLBefore, true
	case "url_after":
		return r.URLAfter, true
	case "title_after":
		return r.TitleAfter, true
	}
	if key, ok := strings.CutPrefix(name, ExtraPrefix); ok && r.DomSignals.Extra != nil {
		v, ok := r.DomSignals.Extra[key]
		return v, ok
	}
	return nil, false
}

func compareNumber(a float64, op Operator, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func inferKind(lit string) SignalKind {
	if isQuoted(lit) {
		return SignalString
	}
	if _, err := strconv.ParseFloat(lit, 64); err == nil {
		return SignalNumber
	}
	if _, err := strconv.ParseBool(lit); err == nil {
		return SignalBool
	}
	return SignalString
}

func isQuoted(s string) bool {
	return len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0]
}

func unquote(s string) string {
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}
