package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type statusErr struct {
	code int
}

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatus() int { return e.code }

func TestClassifyRequestSignals(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Type
	}{
		{"rate limit", statusErr{429}, RateLimit},
		{"server", statusErr{503}, ServerError},
		{"client", statusErr{401}, ClientError},
		{"wrapped status", fmt.Errorf("call: %w", statusErr{500}), ServerError},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), NetworkError},
		{"reset", syscall.ECONNRESET, NetworkError},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.invalid"}, NetworkError},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), Timeout},
		{"aborted", context.Canceled, Timeout},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), NetworkError},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "slow down"), RateLimit},
		{"message timeout", errors.New("request timed out"), Timeout},
		{"message refused", errors.New("ECONNREFUSED 127.0.0.1"), NetworkError},
		{"unknown", errors.New("something odd"), UnknownError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, StageRequest)
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, IsTransient(tt.want), got.Retryable)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestClassifyStatusIsRecorded(t *testing.T) {
	got := Classify(statusErr{429}, StageRequest)
	assert.Equal(t, 429, got.Status)
	assert.True(t, got.Retryable)
}

func TestClassifyStageWins(t *testing.T) {
	err := statusErr{500}
	assert.Equal(t, ParseError, Classify(err, StageParse).Type)
	assert.Equal(t, ValidationError, Classify(err, StageValidation).Type)
	assert.Equal(t, WriteError, Classify(err, StageWrite).Type)
	assert.Equal(t, FallbackFailed, Classify(err, StageFallback).Type)
	assert.Equal(t, UserCancelled, Classify(err, StageCancel).Type)
}

func TestClassifyInfersStageFromError(t *testing.T) {
	err := fmt.Errorf("file a.md: %w", WithStage(StageValidation, errors.New("bad header")))
	got := Classify(err, "")
	assert.Equal(t, ValidationError, got.Type)
	assert.False(t, got.Retryable)
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, UnknownError, Classify(nil, StageRequest).Type)
}

func TestWithStageNil(t *testing.T) {
	assert.NoError(t, WithStage(StageParse, nil))
}

func TestTypeKnown(t *testing.T) {
	for _, typ := range AllTypes {
		assert.True(t, typ.Known(), typ)
	}
	assert.False(t, Type("bogus").Known())
}
