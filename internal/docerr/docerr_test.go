package docerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestClassify covers the legacy message heuristic, in priority order.
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"password", errors.New("pdf: file requires a Password"), PasswordProtected},
		{"encrypted", errors.New("document is encrypted"), PasswordProtected},
		{"corrupted", errors.New("xref table corrupted"), CorruptedFile},
		{"timeout", errors.New("read timeout while loading"), ProcessingTimeout},
		{"deadline", fmt.Errorf("render: %w", context.DeadlineExceeded), ProcessingTimeout},
		{"memory", errors.New("out of memory"), TooLarge},
		{"size", errors.New("size exceeds limit"), TooLarge},
		{"password wins over timeout", errors.New("password prompt timeout"), PasswordProtected},
		{"unknown", errors.New("something odd"), RenderingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindOfPrefersTypedErrors(t *testing.T) {
	// The message mentions "timeout" but the typed kind must win.
	err := fmt.Errorf("job: %w", New(StorageError, "bucket timeout"))
	assert.Equal(t, StorageError, KindOf(err))
}

func TestRetryability(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
		permanent bool
	}{
		{StorageError, true, false},
		{CacheError, true, false},
		{ProcessingTimeout, true, false},
		{PasswordProtected, false, true},
		{CorruptedFile, false, true},
		{InvalidPdf, false, true},
		{TooLarge, false, true},
		{RenderingFailed, false, false},
		{TextExtractionFailed, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "x")
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
	assert.False(t, IsRetryable(nil))
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StorageError, cause, "write page").WithDocument("doc-1").WithPage(3)

	assert.Equal(t, "STORAGE_ERROR: write page (document doc-1, page 3): disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestUserMessage(t *testing.T) {
	m := UserMessage(New(PasswordProtected, "locked"))
	assert.Equal(t, "The PDF is password protected", m.Title)
	assert.Contains(t, m.Suggestions, "Remove password protection and upload again")

	m = UserMessage(New(TooLarge, "big"))
	assert.Contains(t, m.Suggestions, "Compress the file")
}
