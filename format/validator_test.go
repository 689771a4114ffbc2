package format

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodTable = `identifier,question,answer,respondent,field
1,What is the capital?,Paris is the capital of France,Alice,geography
2,How many legs?,A spider has eight legs,Bob,biology
`

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(DefaultConfig())
	require.NoError(t, err)
	return v
}

func TestValidateCleanTable(t *testing.T) {
	res := newValidator(t).Validate(goodTable)
	assert.True(t, res.IsValid)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.AutoFixed)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Alice", res.Rows[0].Respondent)
}

func TestValidateFixesFencesAndPreamble(t *testing.T) {
	in := "Here is the table you asked for:\n```csv\r\nID,Question,Response,Name,Topic\r\n1,Why?,Because the sky scatters blue light,Carol,physics\r\n```\n"
	res := newValidator(t).Validate(in)

	assert.True(t, res.IsValid)
	assert.Contains(t, res.AutoFixed, "strip_code_fences")
	assert.Contains(t, res.AutoFixed, "normalize_newlines")
	assert.Contains(t, res.AutoFixed, "canonical_header")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "physics", res.Rows[0].Field)
}

func TestValidateAddsMissingHeader(t *testing.T) {
	res := newValidator(t).Validate("1,Q,An answer long enough,Dan,misc\n")
	assert.True(t, res.IsValid)
	assert.Contains(t, res.AutoFixed, "ensure_header")
	assert.True(t, strings.HasPrefix(res.FixedText, "identifier,question,answer,respondent,field\n"))
}

func TestValidateRejectsProse(t *testing.T) {
	res := newValidator(t).Validate("Sorry, I cannot help with that request.")
	assert.False(t, res.IsValid)
	assert.Less(t, res.Confidence, MinValidConfidence)
	assert.Nil(t, res.Rows)
}

func TestValidateEmpty(t *testing.T) {
	res := newValidator(t).Validate("   \n")
	assert.False(t, res.IsValid)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "empty_output", res.Issues[0].Code)
}

func TestValidateNoPayloadPenalty(t *testing.T) {
	res := newValidator(t).Validate("identifier,question,answer,respondent,field\n1,Q,short,E,f\n")
	assert.True(t, res.IsValid)
	assert.InDelta(t, 1-NoPayloadPenalty, res.Confidence, 1e-9)
}

func TestConfidenceIsClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StructuralFailurePenalty = 5
	v, err := NewValidator(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Validate("nonsense").Confidence)
}

func TestFixFieldCount(t *testing.T) {
	in := "identifier,question,answer,respondent,field\n1,Q,part one,part two,Frank,misc\n2,Q2\n"
	got := FixFieldCount(in)

	rows, err := Parse(got)
	require.NoError(t, err)
	want := []Row{
		{Identifier: "1", Question: "Q", Answer: "part one, part two", Respondent: "Frank", Field: "misc"},
		{Identifier: "2", Question: "Q2"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestFixFieldCountIdempotent(t *testing.T) {
	assert.Equal(t, goodTable, FixFieldCount(goodTable))

	once := FixFieldCount("a,b\n1,2,3,4,5,6,7\n")
	assert.Equal(t, once, FixFieldCount(once))
}

func TestFixFieldCountTruncatesHeader(t *testing.T) {
	got := FixFieldCount("identifier,question,answer,respondent,field,extra\n1,q,a,r,f\n")
	assert.True(t, strings.HasPrefix(got, `"identifier","question","answer","respondent","field"`+"\n"))
}

func TestLoadRulesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: strip_bom
  priority: 1
  pattern: '^\x{FEFF}+'
- name: drop_markers
  priority: 5
  pattern: '(?m)^>>> .*\n'
  severity: low
`), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Len(t, rules, len(DefaultRules())+1)

	cfg := DefaultConfig()
	cfg.Rules = rules
	v, err := NewValidator(cfg)
	require.NoError(t, err)

	res := v.Validate(">>> generated\n" + goodTable)
	assert.Contains(t, res.AutoFixed, "drop_markers")
	assert.True(t, res.IsValid)
}

func TestCompileRulesErrors(t *testing.T) {
	_, err := CompileRules([]Rule{{Name: "bad", Pattern: "("}})
	assert.Error(t, err)
	_, err = CompileRules([]Rule{{Name: "bad", Strategy: "teleport"}})
	assert.Error(t, err)
	_, err = CompileRules([]Rule{{Pattern: "x"}})
	assert.Error(t, err)
}

func TestCompileRulesOrdersByPriority(t *testing.T) {
	rules, err := CompileRules([]Rule{
		{Name: "late", Priority: 9, Pattern: "a"},
		{Name: "early", Priority: 1, Pattern: "b"},
		{Name: "early-too", Priority: 1, Pattern: "c"},
	})
	require.NoError(t, err)
	var names []string
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"early", "early-too", "late"}, names)
}
