package repair

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extract-core/format"
	llmclient "extract-core/llm-client"
)

type fakeClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llmclient.Request
}

func (f *fakeClient) Complete(ctx context.Context, req llmclient.Request) (*llmclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	i := len(f.requests) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return &llmclient.Response{Text: f.responses[i]}, nil
}

func (f *fakeClient) Provider() string { return "fake" }
func (f *fakeClient) BaseURL() string  { return "" }
func (f *fakeClient) SetModel(string)  {}

const requireRows = `{"type":"object","required":["rows"],"properties":{"rows":{"type":"array"}}}`

func TestExtractStructuredValidFirstTime(t *testing.T) {
	client := &fakeClient{}
	l := &Loop{Client: client, Schema: mustSchema(t, requireRows), MaxAttempts: 2}

	res, err := l.ExtractStructured(context.Background(),
		`{"rows":[{"id":"1","question":"q","response":"line one\nline  two","respondent":"Al","topic":"x"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 0, res.AttemptsUsed)
	assert.Empty(t, client.requests)
	assert.Equal(t, []format.Row{{Identifier: "1", Question: "q", Answer: "line one line two", Respondent: "Al", Field: "x"}}, res.Rows)
}

func TestExtractStructuredZeroAttemptsFailsImmediately(t *testing.T) {
	client := &fakeClient{responses: []string{`{"rows":[]}`}}
	l := &Loop{Client: client, Schema: mustSchema(t, requireRows), MaxAttempts: 0}

	_, err := l.ExtractStructured(context.Background(), `[{"identifier":"1"}]`)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindValidation, re.Kind)
	assert.Equal(t, 0, re.AttemptsUsed)
	assert.Empty(t, client.requests, "no repair request may be issued")
}

func TestExtractStructuredExhaustsBudget(t *testing.T) {
	bad := `[{"identifier":"1","answer":"a"}]`
	client := &fakeClient{responses: []string{bad, bad, bad}}
	l := &Loop{
		Client:      client,
		Template:    llmclient.Request{Provider: "fake", Model: "m"},
		Schema:      mustSchema(t, requireRows),
		MaxAttempts: 2,
	}

	_, err := l.ExtractStructured(context.Background(), bad)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindValidation, re.Kind)
	assert.Equal(t, 2, re.AttemptsUsed)
	assert.Len(t, client.requests, 2)
	require.NotEmpty(t, re.Violations)

	last := client.requests[1]
	assert.Equal(t, "m", last.Model)
	require.Len(t, last.Messages, 2)
	assert.Contains(t, last.Messages[1].Content, "$: expected object, got array")
	assert.Contains(t, last.Messages[1].Content, bad)
}

func TestExtractStructuredRepairs(t *testing.T) {
	client := &fakeClient{responses: []string{
		"not json",
		"```json\n{'rows': [{'identifier': '7', 'answer': 'fixed',},]}\n```",
	}}
	l := &Loop{Client: client, Schema: mustSchema(t, requireRows), MaxAttempts: 3}

	res, err := l.ExtractStructured(context.Background(), `{"rows": "nope"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, res.AttemptsUsed)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "7", res.Rows[0].Identifier)
	assert.True(t, strings.Contains(client.requests[1].Messages[1].Content, "not valid JSON"))
}

func TestExtractStructuredClampsAttempts(t *testing.T) {
	client := &fakeClient{responses: []string{"still broken"}}
	l := &Loop{Client: client, MaxAttempts: 10}

	_, err := l.ExtractStructured(context.Background(), "broken")
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindParse, re.Kind)
	assert.Equal(t, MaxRepairAttempts, re.AttemptsUsed)
	assert.Len(t, client.requests, MaxRepairAttempts)
}

func TestExtractStructuredRequestFailure(t *testing.T) {
	boom := errors.New("connection refused")
	l := &Loop{Client: &fakeClient{err: boom}, MaxAttempts: 1}

	_, err := l.ExtractStructured(context.Background(), "broken")
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindRequest, re.Kind)
	assert.ErrorIs(t, err, boom)
}

func TestProject(t *testing.T) {
	rows, err := Project(decode(t, `[{"identifier":1,"answer":true,"field":null,"respondent":{"n":1},"response":"alias loses"}]`), "rows")
	require.NoError(t, err)
	assert.Equal(t, format.Row{Identifier: "1", Answer: "true", Respondent: `{"n":1}`}, rows[0])

	_, err = Project(decode(t, `{"items":[]}`), "rows")
	assert.Error(t, err)
	_, err = Project(decode(t, `[1]`), "rows")
	assert.Error(t, err)
	_, err = Project(decode(t, `"x"`), "rows")
	assert.Error(t, err)
}
