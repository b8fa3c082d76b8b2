package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBaseErrorIsMatchesCodeAndReason(t *testing.T) {
	sentinel := New(StatusConflict, "already completed", WithReason("ALREADY_COMPLETED"))
	other := New(StatusConflict, "already claimed", WithReason("ALREADY_CLAIMED_TODAY"))

	wrapped := fmt.Errorf("course c1: %w", sentinel)
	require.ErrorIs(t, wrapped, sentinel)
	require.False(t, errors.Is(wrapped, other))
}

func TestWrapKeepsIdentity(t *testing.T) {
	sentinel := ServiceUnavailable("storage unavailable", nil, WithReason("STORAGE_UNAVAILABLE"), WithRetryable())
	cause := errors.New("dial tcp: refused")

	err := Wrap(sentinel, cause)
	require.ErrorIs(t, err, sentinel)
	require.ErrorIs(t, err, cause)

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.True(t, be.Retryable)
	require.Equal(t, http.StatusServiceUnavailable, be.Code.HTTPStatus())
	require.Contains(t, be.Error(), "dial tcp")
}

func TestToGRPCError(t *testing.T) {
	err := ToGRPCError(NotFound("reward not found", nil, WithReason("REWARD_NOT_FOUND")))
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
	require.Equal(t, "REWARD_NOT_FOUND: reward not found", st.Message())

	st, _ = status.FromError(ToGRPCError(context.DeadlineExceeded))
	require.Equal(t, codes.DeadlineExceeded, st.Code())

	require.NoError(t, ToGRPCError(nil))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusNotFound:            http.StatusNotFound,
		StatusConflict:            http.StatusConflict,
		StatusUnprocessableEntity: http.StatusUnprocessableEntity,
		StatusBadRequest:          http.StatusBadRequest,
		StatusUnknown:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), code)
	}
}
