package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"extract-core/format"
	llmclient "extract-core/llm-client"
)

// MaxRepairAttempts is the ceiling on repair round-trips.
const MaxRepairAttempts = 3

// DefaultRowsKey is the object key holding rows.
const DefaultRowsKey = "rows"

// Kind says why extraction failed.
type Kind string

const (
	KindParse      Kind = "parse"
	KindValidation Kind = "validation"
	KindRequest    Kind = "request"
)

// Error is a terminal extraction failure.
type Error struct {
	Kind         Kind
	Violations   []Violation
	AttemptsUsed int
	Err          error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidation:
		return fmt.Sprintf("schema validation failed after %d repair attempts: %d violations", e.AttemptsUsed, len(e.Violations))
	case KindRequest:
		return fmt.Sprintf("repair request %d failed: %v", e.AttemptsUsed, e.Err)
	default:
		return fmt.Sprintf("unparseable output after %d repair attempts: %v", e.AttemptsUsed, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Result is a successful extraction.
type Result struct {
	Rows         []format.Row
	AttemptsUsed int
	// Text is the response that finally validated.
	Text string
}

// Loop validates structured output and asks Client to repair it.
type Loop struct {
	Client llmclient.Client
	// Template supplies provider, model and timeouts for repair requests.
	Template    llmclient.Request
	Schema      *Schema
	MaxAttempts int
	RowsKey     string
	Logger      *zap.Logger
}

const repairInstruction = "You repair structured output. Reply with corrected JSON only, no commentary and no code fences. " +
	"The JSON must satisfy the schema and fix every listed problem."

// ExtractStructured parses and validates text, issuing at most MaxAttempts
// repair requests. With MaxAttempts 0 an invalid text fails immediately.
func (l *Loop) ExtractStructured(ctx context.Context, text string) (*Result, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := min(max(l.MaxAttempts, 0), MaxRepairAttempts)
	rowsKey := l.RowsKey
	if rowsKey == "" {
		rowsKey = DefaultRowsKey
	}

	current := text
	for attempt := 0; ; attempt++ {
		chk := l.check(current, rowsKey)
		if chk.kind == "" {
			return &Result{Rows: chk.rows, AttemptsUsed: attempt, Text: current}, nil
		}

		if attempt >= maxAttempts {
			return nil, &Error{Kind: chk.kind, Violations: chk.violations, AttemptsUsed: attempt, Err: chk.err}
		}

		logger.Debug("requesting repair",
			zap.Int("attempt", attempt+1),
			zap.String("kind", string(chk.kind)),
			zap.Int("violations", len(chk.violations)))

		resp, err := l.Client.Complete(ctx, l.repairRequest(current, chk))
		if err != nil {
			return nil, &Error{Kind: KindRequest, AttemptsUsed: attempt + 1, Err: err}
		}
		current = resp.Text
	}
}

type checkResult struct {
	kind       Kind // empty when the text is valid
	violations []Violation
	err        error
	rows       []format.Row
}

func (l *Loop) check(text, rowsKey string) checkResult {
	data, err := ParseTolerant(text)
	if err != nil {
		return checkResult{kind: KindParse, err: err}
	}
	if l.Schema != nil {
		if vs := l.Schema.Validate(data); len(vs) > 0 {
			return checkResult{kind: KindValidation, violations: vs}
		}
	}
	rows, err := Project(data, rowsKey)
	if err != nil {
		return checkResult{kind: KindValidation, violations: []Violation{{Path: "$", Message: err.Error()}}}
	}
	return checkResult{rows: rows}
}

func (l *Loop) repairRequest(text string, chk checkResult) llmclient.Request {
	var b strings.Builder
	switch chk.kind {
	case KindParse:
		fmt.Fprintf(&b, "The previous output is not valid JSON (%v).\n\n", chk.err)
	default:
		b.WriteString("The previous output does not satisfy the schema. Problems:\n")
		b.WriteString(FormatViolations(chk.violations))
		b.WriteString("\n\n")
	}
	if l.Schema != nil {
		if schema, err := json.MarshalIndent(l.Schema, "", "  "); err == nil {
			b.WriteString("Schema:\n")
			b.Write(schema)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("Output to repair:\n")
	b.WriteString(text)

	req := l.Template
	req.Messages = []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: repairInstruction},
		{Role: llmclient.RoleUser, Content: b.String()},
	}
	return req
}

// Project maps decoded JSON onto table rows. data is either an array of
// objects or an object holding that array under rowsKey. Object keys are
// matched to columns by name or alias.
func Project(data any, rowsKey string) ([]format.Row, error) {
	var items []any
	switch v := data.(type) {
	case []any:
		items = v
	case map[string]any:
		inner, ok := v[rowsKey]
		if !ok {
			return nil, fmt.Errorf("object has no %q array", rowsKey)
		}
		arr, ok := inner.([]any)
		if !ok {
			return nil, fmt.Errorf("%q is %s, not an array", rowsKey, typeName(inner))
		}
		items = arr
	default:
		return nil, fmt.Errorf("expected array or object, got %s", typeName(data))
	}

	rows := make([]format.Row, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %d is %s, not an object", i, typeName(item))
		}
		fields := make([]string, format.NumColumns)
		exact := make([]bool, format.NumColumns)
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			col, ok := format.CanonicalColumn(key)
			if !ok {
				continue
			}
			c := slices.Index(format.Columns, col)
			// A canonical key wins over an alias for the same column.
			if exact[c] {
				continue
			}
			fields[c] = format.NormalizeField(stringify(obj[key]))
			exact[c] = key == col
		}
		rows = append(rows, format.RowFromFields(fields))
	}
	return rows, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
