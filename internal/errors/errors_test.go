package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrMissingEndpoint,
		ErrMissingAPIKey,
		ErrNotFound,
		ErrAlreadyExists,
		ErrDuplicateContent,
		ErrDocumentVanished,
		ErrDocumentTooLarge,
	}
	for i := 0; i < len(sentinels); i++ {
		assert.NotEmpty(t, sentinels[i].Error())

		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

// --- Transient ---

func TestTransient_NilPassthrough(t *testing.T) {
	assert.Nil(t, Transient(nil))
}

func TestIsTransient_DirectWrap(t *testing.T) {
	err := Transient(New("connection reset"))
	assert.True(t, IsTransient(err))
	assert.Equal(t, "connection reset", err.Error())
}

func TestIsTransient_DeepChain(t *testing.T) {
	inner := Transient(New("503"))
	wrapped := fmt.Errorf("uploading document: %w", inner)
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransient_PlainError(t *testing.T) {
	assert.False(t, IsTransient(New("boom")))
	assert.False(t, IsTransient(nil))
}

// --- NonCritical ---

func TestNonCritical_NilPassthrough(t *testing.T) {
	assert.Nil(t, NonCritical(nil))
}

func TestIsNonCritical_Wrap(t *testing.T) {
	err := NonCritical(ErrNotFound)
	assert.True(t, IsNonCritical(err))
	assert.True(t, Is(err, ErrNotFound), "unwrap should reach the sentinel")
}

func TestIsNonCritical_PlainError(t *testing.T) {
	assert.False(t, IsNonCritical(New("boom")))
}

func TestSeverityTags_AreIndependent(t *testing.T) {
	err := NonCritical(Transient(New("flaky delete")))
	assert.True(t, IsNonCritical(err))
	assert.True(t, IsTransient(err))
}
