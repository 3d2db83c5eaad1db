package logging

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextError_Error(t *testing.T) {
	err := WrapError("websocket dial", errors.New("connection refused"))
	assert.Equal(t, "websocket dial: connection refused", err.Error())

	assert.Equal(t, "only op", (&ContextError{Op: "only op"}).Error())
}

func TestContextError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := WrapError("websocket dial", inner)

	assert.True(t, errors.Is(err, inner))
}

func TestContextError_Type(t *testing.T) {
	err := WrapErrorWithType("send batch", errors.New("boom"), "SinkError")
	assert.Equal(t, "SinkError", err.Type())
}

func TestContextError_TypeInferred(t *testing.T) {
	inner := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	assert.Equal(t, "OpError", WrapError("connect", inner).Type())
}

func TestWrapError_Nil(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))
	assert.Nil(t, WrapErrorWithType("op", nil, "X"))
}

type customError struct{ msg string }

func (e *customError) Error() string { return e.msg }
func (e *customError) Type() string  { return "CustomError" }

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"standard", errors.New("x"), "errorString"},
		{"typed", &customError{msg: "x"}, "CustomError"},
		{"wrapped typed", fmt.Errorf("outer: %w", &customError{msg: "x"}), "CustomError"},
		{"context", WrapErrorWithType("op", errors.New("x"), "Ctx"), "Ctx"},
		{"pointer type", &net.DNSError{Err: "no such host"}, "DNSError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorType(tt.err))
		})
	}
}
