// Package repair validates structured model output against a declarative
// schema and asks the model to fix it under a bounded retry budget.
package repair

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Schema is the supported JSON Schema subset.
type Schema struct {
	Type       string             `json:"type,omitempty"`
	Enum       []any              `json:"enum,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	MinLength  *int               `json:"minLength,omitempty"`
	MaxLength  *int               `json:"maxLength,omitempty"`
	MinItems   *int               `json:"minItems,omitempty"`
	MaxItems   *int               `json:"maxItems,omitempty"`
	Pattern    string             `json:"pattern,omitempty"`

	re *regexp.Regexp
}

// Violation is one schema failure at a JSON path.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string { return v.Path + ": " + v.Message }

var knownTypes = map[string]bool{
	"": true, "array": true, "object": true, "string": true, "number": true,
	"integer": true, "boolean": true, "null": true,
}

// LoadSchema reads and compiles a schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read schema %s", path)
	}
	return ParseSchema(data)
}

// ParseSchema decodes and compiles a schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "decode schema")
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Compile checks declared types and compiles patterns throughout the schema.
func (s *Schema) Compile() error {
	return s.compile("$")
}

func (s *Schema) compile(path string) error {
	if s == nil {
		return nil
	}
	if !knownTypes[s.Type] {
		return eris.Errorf("schema %s: unsupported type %q", path, s.Type)
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return eris.Wrapf(err, "schema %s: compile pattern", path)
		}
		s.re = re
	}
	for _, name := range sortedKeys(s.Properties) {
		if err := s.Properties[name].compile(path + "." + name); err != nil {
			return err
		}
	}
	return s.Items.compile(path + "[]")
}

// Validate walks value against s and returns every violation found. Values
// are expected as decoded with json.Decoder.UseNumber.
func (s *Schema) Validate(value any) []Violation {
	var out []Violation
	s.validate("$", value, &out)
	return out
}

func (s *Schema) validate(path string, value any, out *[]Violation) {
	if s == nil {
		return
	}
	add := func(format string, args ...any) {
		*out = append(*out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if s.Type != "" && !typeMatches(s.Type, value) {
		add("expected %s, got %s", s.Type, typeName(value))
		return
	}

	if len(s.Enum) > 0 {
		found := false
		for _, e := range s.Enum {
			if jsonEqual(e, value) {
				found = true
				break
			}
		}
		if !found {
			add("value %v is not one of %v", value, s.Enum)
		}
	}

	switch v := value.(type) {
	case string:
		n := len([]rune(v))
		if s.MinLength != nil && n < *s.MinLength {
			add("length %d is below minLength %d", n, *s.MinLength)
		}
		if s.MaxLength != nil && n > *s.MaxLength {
			add("length %d exceeds maxLength %d", n, *s.MaxLength)
		}
		if s.Pattern != "" {
			re := s.re
			if re == nil {
				var err error
				if re, err = regexp.Compile(s.Pattern); err != nil {
					add("invalid pattern %q", s.Pattern)
					break
				}
			}
			if !re.MatchString(v) {
				add("value does not match pattern %q", s.Pattern)
			}
		}
	case []any:
		if s.MinItems != nil && len(v) < *s.MinItems {
			add("%d items is below minItems %d", len(v), *s.MinItems)
		}
		if s.MaxItems != nil && len(v) > *s.MaxItems {
			add("%d items exceeds maxItems %d", len(v), *s.MaxItems)
		}
		for i, item := range v {
			s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item, out)
		}
	case map[string]any:
		for _, key := range s.Required {
			if _, ok := v[key]; !ok {
				add("missing required key %q", key)
			}
		}
		for _, name := range sortedKeys(s.Properties) {
			if child, ok := v[name]; ok {
				s.Properties[name].validate(path+"."+name, child, out)
			}
		}
	}
}

func typeMatches(t string, value any) bool {
	switch t {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "null":
		return value == nil
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	}
	return false
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	}
	return 0, false
}

// jsonEqual compares a schema enum entry with a decoded value. Numbers
// compare by value regardless of representation.
func jsonEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA || okB {
		return okA && okB && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func sortedKeys(m map[string]*Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatViolations renders violations one per line.
func FormatViolations(vs []Violation) string {
	lines := make([]string, len(vs))
	for i, v := range vs {
		lines[i] = "- " + v.String()
	}
	return strings.Join(lines, "\n")
}
