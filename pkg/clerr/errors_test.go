package clerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetsExitCodeAndRetryable(t *testing.T) {
	e := New(KindUsage, "bad flag")
	assert.Equal(t, 2, e.Code)
	assert.False(t, e.Retryable)

	e = New(KindIORead, "disk hiccup")
	assert.True(t, e.Retryable)
}

func TestExitCodeFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, ExitCode(KindIndexStale), ExitCode(KindUnknown))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(KindIOWrite, cause)
	assert.ErrorIs(t, e, cause)
}

func TestWithHintIsIncludedInMessage(t *testing.T) {
	e := New(KindNotFound, "conversation missing").WithHint("run index --full first")
	assert.Contains(t, e.Error(), "run index --full first")
}
