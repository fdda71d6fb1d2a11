package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/huddle/pkg/session"
)

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "session not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", session.ErrSessionNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "session not found",
		},
		{
			name:       "prompt not found maps to 404",
			err:        session.ErrPromptNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "prompt not found",
		},
		{
			name:       "user not found maps to 404",
			err:        session.ErrUserNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "user not found",
		},
		{
			name:       "non-member maps to 403",
			err:        fmt.Errorf("%w: user-z", session.ErrUserNotInSession),
			expectCode: http.StatusForbidden,
			expectMsg:  "user not in session",
		},
		{
			name:       "non-holder release maps to 403",
			err:        session.ErrNotLockHolder,
			expectCode: http.StatusForbidden,
			expectMsg:  "edit lock held by another user",
		},
		{
			name:       "not prompt owner maps to 403",
			err:        session.ErrNotPromptOwner,
			expectCode: http.StatusForbidden,
			expectMsg:  "not the prompt owner",
		},
		{
			name:       "session full maps to 429",
			err:        session.ErrSessionFull,
			expectCode: http.StatusTooManyRequests,
			expectMsg:  "session full",
		},
		{
			name:       "client limit maps to 429",
			err:        session.ErrClientLimitReached,
			expectCode: http.StatusTooManyRequests,
			expectMsg:  "client limit reached",
		},
		{
			name:       "queue full maps to 429",
			err:        session.ErrQueueFull,
			expectCode: http.StatusTooManyRequests,
			expectMsg:  "prompt queue full",
		},
		{
			name:       "executing prompt maps to 409",
			err:        session.ErrPromptExecuting,
			expectCode: http.StatusConflict,
			expectMsg:  "prompt is executing",
		},
		{
			name:       "cross-priority reorder maps to 400",
			err:        session.ErrCrossPriorityReorder,
			expectCode: http.StatusBadRequest,
			expectMsg:  "reorder crosses priority classes",
		},
		{
			name:       "invalid strategy maps to 400",
			err:        session.ErrInvalidStrategy,
			expectCode: http.StatusBadRequest,
			expectMsg:  "invalid conflict strategy",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapStoreError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
