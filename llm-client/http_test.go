package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"a,b"}}],"usage":{"prompt_tokens":7,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{Provider: ProviderMistral, APIKey: "secret", BaseURL: srv.URL + "/", Model: "m1"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "a,b", resp.Text)
	assert.Equal(t, Usage{PromptTokens: 7, OutputTokens: 5}, resp.Usage)

	want := chatRequest{Model: "m1", Messages: []chatMessage{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","code":"rate_limited"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{Provider: ProviderOpenAI, BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 429, se.HTTPStatus())
	assert.Equal(t, "rate_limited", se.ErrorCode())
	assert.Equal(t, "slow down", se.Message)
}

func TestHTTPClientResponseTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(Options{BaseURL: srv.URL})
	start := time.Now()
	_, err := c.Complete(context.Background(), Request{Timeouts: Timeouts{Response: 50 * time.Millisecond}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Options{BaseURL: srv.URL}).Complete(context.Background(), Request{})
	var empty *ErrEmptyResponse
	assert.True(t, errors.As(err, &empty))
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	res := Probe(context.Background(), srv.URL, time.Second)
	assert.True(t, res.Reachable, "any HTTP status counts as reachable")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	url := srv.URL
	srv.Close()
	res = Probe(context.Background(), url, 200*time.Millisecond)
	assert.False(t, res.Reachable)
	assert.Error(t, res.Err)
}

func TestNewClientSelection(t *testing.T) {
	tests := []struct {
		opts Options
		want any
	}{
		{Options{Provider: ProviderOpenAI}, &OpenAIClient{}},
		{Options{Provider: ProviderAnthropic}, &AnthropicClient{}},
		{Options{Provider: ProviderGoogle}, &GoogleClient{}},
		{Options{Provider: ProviderCohere}, &CohereClient{}},
		{Options{Provider: ProviderMistral}, &HTTPClient{}},
		{Options{Provider: ProviderAnthropic, Transport: TransportHTTP}, &HTTPClient{}},
		{Options{}, &OpenAIClient{}},
	}
	for _, tt := range tests {
		c, err := NewClient(tt.opts)
		require.NoError(t, err)
		assert.IsType(t, tt.want, c)
	}

	_, err := NewClient(Options{Provider: "bogus"})
	assert.Error(t, err)
	_, err = NewClient(Options{Provider: ProviderOpenAI, Transport: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestSplitSystem(t *testing.T) {
	sys, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", sys)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "u"}}, rest)
}
