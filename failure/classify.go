package failure

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classification is the normalised view of a failure.
type Classification struct {
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Status    int    `json:"status,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

// httpStatuser is implemented by transport errors that carry an HTTP status.
type httpStatuser interface {
	HTTPStatus() int
}

// errorCoder is implemented by errors that carry a provider error code.
type errorCoder interface {
	ErrorCode() string
}

// Classify maps err onto the taxonomy. The stage is consulted first; when it
// is empty the stage recorded on err via WithStage is used. Only request-stage
// failures are classified by inspecting the error signal.
func Classify(err error, stage Stage) Classification {
	if err == nil {
		return Classification{Type: UnknownError, Message: "unknown failure"}
	}
	if stage == "" {
		stage, _ = StageOf(err)
	}

	c := Classification{Message: err.Error()}
	var ec errorCoder
	if errors.As(err, &ec) {
		c.Code = ec.ErrorCode()
	}

	switch stage {
	case StageParse:
		c.Type = ParseError
	case StageValidation:
		c.Type = ValidationError
	case StageWrite:
		c.Type = WriteError
	case StageFallback:
		c.Type = FallbackFailed
	case StageCancel:
		c.Type = UserCancelled
	default:
		classifySignal(err, &c)
	}
	c.Retryable = IsTransient(c.Type)
	return c
}

func classifySignal(err error, c *Classification) {
	var hs httpStatuser
	if errors.As(err, &hs) && hs.HTTPStatus() > 0 {
		c.Status = hs.HTTPStatus()
		c.Type = typeForStatus(c.Status)
		return
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		if c.Code == "" {
			c.Code = st.Code().String()
		}
		c.Type = typeForGRPC(st.Code())
		return
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		c.Type, c.Code = NetworkError, codeOr(c.Code, "ECONNREFUSED")
		return
	case errors.Is(err, syscall.ECONNRESET):
		c.Type, c.Code = NetworkError, codeOr(c.Code, "ECONNRESET")
		return
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			c.Type, c.Code = Timeout, codeOr(c.Code, "ETIMEDOUT")
			return
		}
		c.Type, c.Code = NetworkError, codeOr(c.Code, "ENOTFOUND")
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.Type, c.Code = Timeout, codeOr(c.Code, "ETIMEDOUT")
		return
	}
	if errors.Is(err, context.Canceled) {
		c.Type, c.Code = Timeout, codeOr(c.Code, "ABORTED")
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.Type, c.Code = Timeout, codeOr(c.Code, "ETIMEDOUT")
		return
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		c.Type = NetworkError
		return
	}

	c.Type = typeForMessage(strings.ToLower(err.Error()))
}

func typeForStatus(code int) Type {
	switch {
	case code == 429:
		return RateLimit
	case code >= 500:
		return ServerError
	case code >= 400:
		return ClientError
	default:
		return UnknownError
	}
}

func typeForGRPC(code codes.Code) Type {
	switch code {
	case codes.Unavailable:
		return NetworkError
	case codes.DeadlineExceeded, codes.Canceled:
		return Timeout
	case codes.ResourceExhausted:
		return RateLimit
	case codes.Internal, codes.DataLoss, codes.Unimplemented:
		return ServerError
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.PermissionDenied,
		codes.Unauthenticated, codes.FailedPrecondition, codes.OutOfRange:
		return ClientError
	default:
		return UnknownError
	}
}

var (
	networkPatterns = []string{"connection refused", "econnrefused", "no such host", "enotfound",
		"connection reset", "econnreset", "eai_again", "network is unreachable"}
	timeoutPatterns   = []string{"timeout", "timed out", "deadline exceeded", "aborted", "abort"}
	rateLimitPatterns = []string{"rate limit", "too many requests", "status 429"}
)

func typeForMessage(msg string) Type {
	switch {
	case containsAny(msg, networkPatterns):
		return NetworkError
	case containsAny(msg, timeoutPatterns):
		return Timeout
	case containsAny(msg, rateLimitPatterns):
		return RateLimit
	default:
		return UnknownError
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func codeOr(existing, fallback string) string {
	if existing != "" {
		return existing
	}
	return fallback
}
