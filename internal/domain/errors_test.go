package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkippableError(t *testing.T) {
	copyErr := fmt.Errorf("open source: %w", ErrAccessDenied)
	err := fmt.Errorf("item: %w", NewSkippableError(copyErr, "m.gguf"))

	assert.True(t, IsSkippable(err))
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, "item: m.gguf: open source: access to storage location denied", err.Error())

	assert.False(t, IsSkippable(context.Canceled))
	assert.False(t, IsSkippable(nil))
	assert.Equal(t, "skippable error", NewSkippableError(nil, "").Error())
}

func TestRetryableError(t *testing.T) {
	err := NewRetryableError(fmt.Errorf("finalize m.gguf: %w", ErrNotConfigured))

	assert.True(t, IsRetryable(fmt.Errorf("start: %w", err)))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, "finalize m.gguf: storage location not configured", err.Error())

	assert.False(t, IsRetryable(NewSkippableError(ErrConflict, "m.gguf")))
	assert.False(t, IsRetryable(nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "sentinel", err: ErrNotFound, want: ErrNotFound},
		{name: "wrapped", err: fmt.Errorf("asset %q: %w", "m", ErrAlreadyActive), want: ErrAlreadyActive},
		{name: "retryable access denied", err: NewRetryableError(ErrAccessDenied), want: ErrAccessDenied},
		{name: "skippable conflict", err: NewSkippableError(ErrConflict, "m.gguf"), want: ErrConflict},
		{name: "invalid location", err: fmt.Errorf("%w: ftp://x", ErrInvalidLocation), want: ErrInvalidLocation},
		{name: "pending migration", err: ErrMigrationInProgress, want: ErrMigrationInProgress},
		{name: "state transition", err: fmt.Errorf("pause: %w", ErrInvalidStateTransition), want: ErrInvalidStateTransition},
		{name: "unknown", err: errors.New("disk on fire"), want: ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
