// Package format validates and repairs candidate tabular output and encodes
// the fixed five-column table written for every input.
package format

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Columns is the canonical header, in order.
var Columns = []string{"identifier", "question", "answer", "respondent", "field"}

// NumColumns is the expected field count of every row.
const NumColumns = 5

// AnswerIndex is the column that absorbs overflow fields.
const AnswerIndex = 2

// headerAliases maps accepted header spellings to canonical column names.
var headerAliases = map[string]string{
	"identifier": "identifier", "id": "identifier", "record_id": "identifier", "no": "identifier", "#": "identifier",
	"question": "question", "q": "question", "prompt": "question",
	"answer": "answer", "a": "answer", "response": "answer", "reply": "answer",
	"respondent": "respondent", "respondent_name": "respondent", "name": "respondent", "speaker": "respondent",
	"field": "field", "category": "field", "topic": "field", "domain": "field",
}

// CanonicalColumn returns the canonical name for a header cell.
func CanonicalColumn(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "_")
	c, ok := headerAliases[key]
	return c, ok
}

// Row is one extracted record.
type Row struct {
	Identifier string `json:"identifier"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Respondent string `json:"respondent"`
	Field      string `json:"field"`
}

// Fields returns the row values in column order.
func (r Row) Fields() []string {
	return []string{r.Identifier, r.Question, r.Answer, r.Respondent, r.Field}
}

// RowFromFields builds a Row from values in column order. Missing values are
// left empty and extra values are ignored.
func RowFromFields(f []string) Row {
	get := func(i int) string {
		if i < len(f) {
			return f[i]
		}
		return ""
	}
	return Row{Identifier: get(0), Question: get(1), Answer: get(2), Respondent: get(3), Field: get(4)}
}

// NormalizeField collapses embedded newlines and runs of whitespace into
// single spaces.
func NormalizeField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Encode renders rows under the canonical header. Every field is quoted and
// internal quotes are doubled; values are normalised so no field carries a
// raw newline.
func Encode(rows []Row) string {
	var b strings.Builder
	writeRecord(&b, Columns)
	for _, r := range rows {
		f := r.Fields()
		for i := range f {
			f[i] = NormalizeField(f[i])
		}
		writeRecord(&b, f)
	}
	return b.String()
}

func writeRecord(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

// ErrNoRows is returned by Parse when the table has a header but no data.
var ErrNoRows = errors.New("table has no data rows")

// HeaderError reports a header that does not match the canonical columns.
type HeaderError struct {
	Got []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("unexpected header %q, want %q", e.Got, Columns)
}

// Parse strictly parses text: exactly five fields per record, the canonical
// header first and at least one data row.
func Parse(text string) ([]Row, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = NumColumns

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoRows
		}
		return nil, err
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) != Columns[i] {
			return nil, &HeaderError{Got: header}
		}
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, RowFromFields(rec))
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

// readLenient reads records without enforcing field counts or strict quoting.
func readLenient(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// isHeaderRecord reports whether every non-empty cell names a column and at
// least three distinct columns are present.
func isHeaderRecord(rec []string) bool {
	seen := map[string]bool{}
	for _, cell := range rec {
		if strings.TrimSpace(cell) == "" {
			continue
		}
		c, ok := CanonicalColumn(cell)
		if !ok {
			return false
		}
		seen[c] = true
	}
	return len(seen) >= 3
}

func encodeRecords(recs [][]string) string {
	var b strings.Builder
	for _, rec := range recs {
		writeRecord(&b, rec)
	}
	return b.String()
}
