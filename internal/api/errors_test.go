package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"invalid argument", connect.NewError(connect.CodeInvalidArgument, errors.New("bad")), true},
		{"not found", connect.NewError(connect.CodeNotFound, errors.New("gone")), true},
		{"permission denied", connect.NewError(connect.CodePermissionDenied, errors.New("no")), true},
		{"wrapped failed precondition", fmt.Errorf("submit: %w", connect.NewError(connect.CodeFailedPrecondition, errors.New("x"))), true},
		{"unavailable", connect.NewError(connect.CodeUnavailable, errors.New("down")), false},
		{"internal", connect.NewError(connect.CodeInternal, errors.New("500")), false},
		{"deadline", connect.NewError(connect.CodeDeadlineExceeded, context.DeadlineExceeded), false},
		{"unauthenticated", connect.NewError(connect.CodeUnauthenticated, errors.New("expired")), false},
		{"plain network error", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, !tt.permanent, IsTransient(tt.err))
		})
	}

	assert.False(t, IsTransient(nil))
}
