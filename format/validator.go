package format

import (
	"errors"
	"fmt"
	"strings"
)

// Severity grades an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

const (
	StructuralFailurePenalty = 0.4
	AutoFixBonus             = 0.2
	NoPayloadPenalty         = 0.1
	MinValidConfidence       = 0.4
	MinPayloadLength         = 10
)

// Issue is one problem found in a candidate.
type Issue struct {
	Code      string   `json:"code"`
	Severity  Severity `json:"severity"`
	Row       int      `json:"row,omitempty"`
	Message   string   `json:"message"`
	AutoFixed bool     `json:"auto_fixed,omitempty"`
}

// Result is the outcome of validating one candidate.
type Result struct {
	IsValid    bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Issues     []Issue  `json:"issues,omitempty"`
	AutoFixed  []string `json:"auto_fixed,omitempty"`
	FixedText  string   `json:"fixed_text"`
	// Rows holds the parsed table when the strict parse succeeded.
	Rows []Row `json:"-"`
}

// Config holds the validator's tunables. Zero values are not defaulted; start
// from DefaultConfig.
type Config struct {
	StructuralFailurePenalty float64              `yaml:"structural_failure_penalty"`
	AutoFixBonus             float64              `yaml:"auto_fix_bonus"`
	NoPayloadPenalty         float64              `yaml:"no_payload_penalty"`
	MinValidConfidence       float64              `yaml:"min_valid_confidence"`
	MinPayloadLength         int                  `yaml:"min_payload_length"`
	SeverityPenalties        map[Severity]float64 `yaml:"severity_penalties"`
	Rules                    []Rule               `yaml:"-"`
}

// DefaultConfig returns the built-in thresholds and rule set.
func DefaultConfig() Config {
	return Config{
		StructuralFailurePenalty: StructuralFailurePenalty,
		AutoFixBonus:             AutoFixBonus,
		NoPayloadPenalty:         NoPayloadPenalty,
		MinValidConfidence:       MinValidConfidence,
		MinPayloadLength:         MinPayloadLength,
		SeverityPenalties: map[Severity]float64{
			SeverityCritical: 0.15,
			SeverityHigh:     0.10,
			SeverityMedium:   0.03,
			SeverityLow:      0.01,
		},
		Rules: DefaultRules(),
	}
}

// Validator checks candidates against the five-column table shape. It holds
// no mutable state and is safe for concurrent use.
type Validator struct {
	cfg   Config
	rules []Rule
}

// NewValidator compiles cfg's rules.
func NewValidator(cfg Config) (*Validator, error) {
	rules, err := CompileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg, rules: rules}, nil
}

// MustValidator is NewValidator for configurations known to be valid.
func MustValidator(cfg Config) *Validator {
	v, err := NewValidator(cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate applies the fix rules to text and then parses it strictly.
func (v *Validator) Validate(text string) Result {
	var res Result
	if strings.TrimSpace(text) == "" {
		res.Issues = append(res.Issues, Issue{Code: "empty_output", Severity: SeverityCritical, Message: "candidate is empty"})
		res.Confidence = v.score(res, false, false)
		return res
	}

	fixed, applied := ApplyRules(text, v.rules)
	res.FixedText = fixed
	for _, r := range applied {
		res.AutoFixed = append(res.AutoFixed, r.Name)
		res.Issues = append(res.Issues, Issue{Code: r.Name, Severity: r.Severity, Message: "fixed by rule " + r.Name, AutoFixed: true})
	}

	rows, err := Parse(fixed)
	parsed := err == nil
	if parsed {
		res.Rows = rows
		res.Issues = append(res.Issues, v.rowIssues(rows)...)
	} else {
		res.Issues = append(res.Issues, parseIssues(err)...)
	}

	res.Confidence = v.score(res, parsed, hasPayload(rows, v.cfg.MinPayloadLength))
	res.IsValid = res.Confidence > v.cfg.MinValidConfidence || (len(res.AutoFixed) > 0 && parsed)
	return res
}

func (v *Validator) score(res Result, parsed, payload bool) float64 {
	conf := 1.0
	if !parsed {
		conf -= v.cfg.StructuralFailurePenalty
	}
	for _, is := range res.Issues {
		conf -= v.cfg.SeverityPenalties[is.Severity]
	}
	if n := len(res.Issues); n > 0 {
		conf += float64(len(res.AutoFixed)) / float64(n) * v.cfg.AutoFixBonus
	}
	if !payload {
		conf -= v.cfg.NoPayloadPenalty
	}
	return clamp01(conf)
}

func (v *Validator) rowIssues(rows []Row) []Issue {
	var issues []Issue
	for i, r := range rows {
		if strings.TrimSpace(r.Identifier) == "" {
			issues = append(issues, Issue{Code: "empty_identifier", Severity: SeverityMedium, Row: i + 1, Message: "identifier is empty"})
		}
		if strings.TrimSpace(r.Answer) == "" {
			issues = append(issues, Issue{Code: "empty_answer", Severity: SeverityLow, Row: i + 1, Message: "answer is empty"})
		}
	}
	return issues
}

// parseIssues reports a failed strict parse as a critical structural issue,
// plus the specific shape problem when one is known.
func parseIssues(err error) []Issue {
	issues := []Issue{{Code: "structure", Severity: SeverityCritical, Message: fmt.Sprintf("strict parse failed: %v", err)}}
	var he *HeaderError
	switch {
	case errors.As(err, &he):
		issues = append(issues, Issue{Code: "missing_header", Severity: SeverityHigh, Message: he.Error()})
	case errors.Is(err, ErrNoRows):
		issues = append(issues, Issue{Code: "no_rows", Severity: SeverityHigh, Message: err.Error()})
	}
	return issues
}

func hasPayload(rows []Row, minLen int) bool {
	for _, r := range rows {
		if len([]rune(strings.TrimSpace(r.Answer))) >= minLen {
			return true
		}
	}
	return false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
