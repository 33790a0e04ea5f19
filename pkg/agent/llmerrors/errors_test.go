package llmerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{errors.New("POST: 429 Too Many Requests"), ErrorTypeRateLimit},
		{errors.New("401 Unauthorized"), ErrorTypeAuth},
		{errors.New("prompt is too long"), ErrorTypeBadPrompt},
		{errors.New("503 Service Unavailable"), ErrorTypeTransient},
		{errors.New("unexpected EOF"), ErrorTypeTransient},
		{errors.New("something odd"), ErrorTypeUnknown},
		{NewError(ErrorTypeEmptyResponse, "no content"), ErrorTypeEmptyResponse},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := Wrap(cause, "anthropic")

	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, ErrorTypeTransient))
	assert.Nil(t, Wrap(nil, "anthropic"))
}

func TestRetryability(t *testing.T) {
	assert.True(t, NewError(ErrorTypeRateLimit, "x").IsRetryable())
	assert.False(t, NewError(ErrorTypeAuth, "x").IsRetryable())
	assert.False(t, NewServiceUnavailableError(errors.New("x"), 3).IsRetryable())
}

func TestServiceUnavailable(t *testing.T) {
	err := fmt.Errorf("writer: %w", NewServiceUnavailableError(errors.New("503"), 3))
	assert.True(t, IsServiceUnavailable(err))
	assert.Equal(t, ErrorTypeServiceUnavailable, TypeOf(err))
	assert.Contains(t, err.Error(), "after 3 retry attempts")
}

func TestSanitizePrompt(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, SanitizePrompt(short, 50))

	long := strings.Repeat("a", 300) + strings.Repeat("b", 300)
	out := SanitizePrompt(long, 200)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 100)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 100)))
	assert.Contains(t, out, "[600 chars, hash:")
}
