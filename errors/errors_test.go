package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestCode(t *testing.T) {
	assert.Equal(t, codes.OK, Code(nil))

	err := fmt.Errorf("storage offline")
	assert.Equal(t, codes.Unknown, Code(err))

	err = WithCode(err, codes.Unavailable)
	assert.Equal(t, codes.Unavailable, Code(err))

	err = WrapPrefix(err, "consume code", 0)
	assert.Equal(t, codes.Unavailable, Code(err), "prefix should keep code")
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatusCode(nil))

	err := fmt.Errorf("boom")
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(err))

	err = WithCode(err, codes.Unauthenticated)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatusCode(err))

	err = WithHTTPStatusCode(err, http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(err), "explicit status overrides code")

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(wrapped), "status survives fmt wrapping")
}

func TestPrefixAndAppend(t *testing.T) {
	err := WrapPrefix(fmt.Errorf("no rows"), "lookup client", 0)
	assert.Equal(t, "lookup client: no rows", err.Error())

	err = err.Append("client_id=abc")
	assert.Equal(t, "lookup client: no rows: client_id=abc", err.Error())
}

func TestPublicMessage(t *testing.T) {
	err := New("pq: connection refused")
	assert.Equal(t, "pq: connection refused", err.GRPCStatus().Message())

	err = err.WithPublicMessage("temporary server error")
	assert.Equal(t, "temporary server error", err.PublicMessage())
	assert.Equal(t, "temporary server error", err.GRPCStatus().Message())
	assert.Equal(t, "pq: connection refused", err.Error(), "internal message unchanged")
}

func TestAppendDoesNotMutateSentinel(t *testing.T) {
	sentinel := NewC("record not found", codes.NotFound)
	detailed := Mark(sentinel, 0).Append("code=abc")

	assert.Equal(t, "record not found", sentinel.Error())
	assert.Equal(t, "record not found: code=abc", detailed.Error())
	assert.True(t, Is(detailed, sentinel))
}

func TestMark(t *testing.T) {
	err := NewC("test error", codes.InvalidArgument)
	marked := Mark(err, 0)

	assert.True(t, Is(marked, err), "marked error should still satisfy Is")
	assert.Equal(t, codes.InvalidArgument, Code(marked))
	assert.NotEqual(t, err.StackFrames()[0], marked.StackFrames()[0])
}

func TestMaybeWrap(t *testing.T) {
	require.NoError(t, MaybeWrap(nil, 0))

	err := MaybeWrap(fmt.Errorf("x"), 0)
	require.Error(t, err)
	var e *Error
	assert.True(t, As(err, &e))
}

func TestMinimalStack(t *testing.T) {
	err := New("trace me")
	stack := err.MinimalStack(0, 2)
	require.NotEmpty(t, stack)
	assert.LessOrEqual(t, len(stack), 2)
	assert.Contains(t, stack[0], "errors_test.go")
	assert.Contains(t, stack[0], "TestMinimalStack")

	assert.Nil(t, err.MinimalStack(1000, 2))
}

func TestFromPanic(t *testing.T) {
	var err *Error
	func() {
		defer func() {
			err = FromPanic(recover(), 0)
		}()
		panic("kaboom")
	}()

	require.NotNil(t, err)
	assert.Equal(t, "panic", err.TypeName())
	assert.Equal(t, codes.Internal, err.Code())
	assert.Contains(t, err.Error(), "kaboom")
}
