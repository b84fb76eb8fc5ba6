package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUseMultiWatch(t *testing.T) {
	// One explicit PR gets the full corrective watch.
	assert.False(t, useMultiWatch(1, 1, false))

	// Several explicit PRs watch concurrently.
	assert.True(t, useMultiWatch(3, 3, false))

	// --multi forces the concurrent path even for a single PR.
	assert.True(t, useMultiWatch(1, 1, true))

	// The no-argument registry form watches concurrently regardless of how
	// many PRs are tracked.
	assert.True(t, useMultiWatch(0, 1, false))
	assert.True(t, useMultiWatch(0, 4, false))
}
