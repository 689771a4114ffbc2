package format

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Strategy names a built-in fix that cannot be expressed as a single
// pattern replacement.
type Strategy string

const (
	StrategyReplace         Strategy = ""
	StrategyStripCodeFences Strategy = "strip_code_fences"
	StrategyDropPreamble    Strategy = "drop_preamble"
	StrategyCanonicalHeader Strategy = "canonical_header"
	StrategyEnsureHeader    Strategy = "ensure_header"
	StrategyFixFieldCount   Strategy = "fix_field_count"
)

// Rule is one declarative fix. Rules run in ascending Priority; a rule with
// an empty Strategy replaces every match of Pattern with Replacement.
type Rule struct {
	Name        string   `yaml:"name"`
	Priority    int      `yaml:"priority"`
	Pattern     string   `yaml:"pattern,omitempty"`
	Replacement string   `yaml:"replacement,omitempty"`
	Strategy    Strategy `yaml:"strategy,omitempty"`
	Severity    Severity `yaml:"severity,omitempty"`

	re *regexp.Regexp
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "strip_bom", Priority: 10, Pattern: `^\x{FEFF}`, Severity: SeverityLow},
		{Name: "strip_code_fences", Priority: 20, Strategy: StrategyStripCodeFences, Severity: SeverityLow},
		{Name: "normalize_newlines", Priority: 30, Pattern: `\r\n?`, Replacement: "\n", Severity: SeverityLow},
		{Name: "trim_trailing_space", Priority: 35, Pattern: `(?m)[ \t]+$`, Severity: SeverityLow},
		{Name: "drop_preamble", Priority: 40, Strategy: StrategyDropPreamble, Severity: SeverityLow},
		{Name: "canonical_header", Priority: 50, Strategy: StrategyCanonicalHeader, Severity: SeverityLow},
		{Name: "ensure_header", Priority: 60, Strategy: StrategyEnsureHeader, Severity: SeverityHigh},
		{Name: "fix_field_count", Priority: 70, Strategy: StrategyFixFieldCount, Severity: SeverityMedium},
	}
}

// LoadRules reads a YAML list of rules. Rules sharing a name with a default
// rule replace it; new names are added.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read rules %s", path)
	}
	var overrides []Rule
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrapf(err, "parse rules %s", path)
	}
	return MergeRules(DefaultRules(), overrides), nil
}

// MergeRules overlays overrides onto base by rule name.
func MergeRules(base, overrides []Rule) []Rule {
	out := append([]Rule(nil), base...)
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.Name] = i
	}
	for _, o := range overrides {
		if i, ok := index[o.Name]; ok {
			out[i] = o
			continue
		}
		index[o.Name] = len(out)
		out = append(out, o)
	}
	return out
}

// CompileRules validates rules, compiles their patterns and sorts them by
// priority. Ties keep their input order.
func CompileRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Name == "" {
			return nil, eris.New("rule without a name")
		}
		if r.Severity == "" {
			r.Severity = SeverityLow
		}
		switch r.Strategy {
		case StrategyReplace:
			if r.Pattern == "" {
				return nil, eris.Errorf("rule %s: pattern is required", r.Name)
			}
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, eris.Wrapf(err, "rule %s: compile pattern", r.Name)
			}
			r.re = re
		case StrategyStripCodeFences, StrategyDropPreamble, StrategyCanonicalHeader,
			StrategyEnsureHeader, StrategyFixFieldCount:
		default:
			return nil, eris.Errorf("rule %s: unknown strategy %q", r.Name, r.Strategy)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// ApplyRules runs compiled rules over text in order and returns the result
// with the names of rules that changed it.
func ApplyRules(text string, rules []Rule) (string, []Rule) {
	var applied []Rule
	for _, r := range rules {
		next := applyRule(text, r)
		if next != text {
			applied = append(applied, r)
			text = next
		}
	}
	return text, applied
}

func applyRule(text string, r Rule) string {
	switch r.Strategy {
	case StrategyReplace:
		if r.re == nil {
			return text
		}
		return r.re.ReplaceAllString(text, r.Replacement)
	case StrategyStripCodeFences:
		return StripCodeFences(text)
	case StrategyDropPreamble:
		return dropPreamble(text)
	case StrategyCanonicalHeader:
		return canonicalHeader(text)
	case StrategyEnsureHeader:
		return ensureHeader(text)
	case StrategyFixFieldCount:
		return FixFieldCount(text)
	}
	return text
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\r?\n(.*?)```")

// StripCodeFences returns the body of the first fenced block, or text
// unchanged when there is none.
func StripCodeFences(text string) string {
	m := fencedBlock.FindStringSubmatch(text)
	if m == nil {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "```") {
			// Unterminated fence: drop the opening line.
			if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
				return strings.TrimSpace(trimmed[i+1:]) + "\n"
			}
		}
		return text
	}
	return strings.TrimSpace(m[1]) + "\n"
}

// dropPreamble removes prose lines before the first header-looking line.
func dropPreamble(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		recs, err := readLenient(line)
		if err != nil || len(recs) != 1 {
			continue
		}
		if isHeaderRecord(recs[0]) {
			if i == 0 {
				return text
			}
			return strings.Join(lines[i:], "\n")
		}
	}
	return text
}

// canonicalHeader rewrites an aliased header to the canonical names.
func canonicalHeader(text string) string {
	first, rest, hasRest := strings.Cut(text, "\n")
	recs, err := readLenient(first)
	if err != nil || len(recs) != 1 || !isHeaderRecord(recs[0]) {
		return text
	}
	changed := false
	canon := make([]string, len(recs[0]))
	for i, cell := range recs[0] {
		canon[i] = cell
		if c, ok := CanonicalColumn(cell); ok && c != cell {
			canon[i] = c
			changed = true
		}
	}
	if !changed {
		return text
	}
	line := strings.TrimSuffix(encodeRecords([][]string{canon}), "\n")
	if !hasRest {
		return line
	}
	return line + "\n" + rest
}

// ensureHeader prepends the canonical header when the first record already
// has the right width but is data rather than a header.
func ensureHeader(text string) string {
	trimmed := strings.TrimLeft(text, "\n")
	if trimmed == "" {
		return text
	}
	first, _, _ := strings.Cut(trimmed, "\n")
	recs, err := readLenient(first)
	if err != nil || len(recs) != 1 || len(recs[0]) != NumColumns || isHeaderRecord(recs[0]) {
		return text
	}
	return strings.Join(Columns, ",") + "\n" + trimmed
}

// FixFieldCount pads short records with empty fields and merges overflow
// fields of data records into the answer column. The header record is
// truncated instead. Text whose records already have the right width is
// returned unchanged.
func FixFieldCount(text string) string {
	recs, err := readLenient(text)
	if err != nil || len(recs) == 0 {
		return text
	}
	changed := false
	for i, rec := range recs {
		if len(rec) == NumColumns {
			continue
		}
		changed = true
		if len(rec) < NumColumns {
			recs[i] = append(rec, make([]string, NumColumns-len(rec))...)
			continue
		}
		if i == 0 && isHeaderRecord(rec[:NumColumns]) {
			recs[i] = rec[:NumColumns]
			continue
		}
		overflow := len(rec) - NumColumns
		merged := strings.Join(rec[AnswerIndex:AnswerIndex+overflow+1], ", ")
		fixed := make([]string, 0, NumColumns)
		fixed = append(fixed, rec[:AnswerIndex]...)
		fixed = append(fixed, merged)
		fixed = append(fixed, rec[AnswerIndex+overflow+1:]...)
		recs[i] = fixed
	}
	if !changed {
		return text
	}
	return encodeRecords(recs)
}
