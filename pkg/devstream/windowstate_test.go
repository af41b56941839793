package devstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitAdvancesByMinimumContribution(t *testing.T) {
	w := NewWindowAccounting(256)
	w.Add(1)
	w.Add(2)

	require.NoError(t, w.Contribute(1, 256))
	require.NoError(t, w.Contribute(2, 100))

	advance := w.Commit()
	assert.Equal(t, 100, advance)
	assert.Equal(t, 156, w.Pending(1))
	assert.Equal(t, 0, w.Pending(2))
}

func TestContributeRejectsOverWindow(t *testing.T) {
	w := NewWindowAccounting(256)
	w.Add(1)
	require.NoError(t, w.Contribute(1, 200))
	assert.Error(t, w.Contribute(1, 100))
}

func TestCommitWithNoStreamsAdvancesFullWindow(t *testing.T) {
	w := NewWindowAccounting(480)
	assert.Equal(t, 480, w.Commit())
}

func TestRemoveDropsStreamFromNextCommit(t *testing.T) {
	w := NewWindowAccounting(256)
	w.Add(1)
	w.Add(2)
	require.NoError(t, w.Contribute(1, 50))
	require.NoError(t, w.Contribute(2, 10))
	w.Remove(1)

	advance := w.Commit()
	assert.Equal(t, 10, advance) // only stream 2 remains
}

func TestMultipleCommitsDrainContributionsAcrossWindows(t *testing.T) {
	w := NewWindowAccounting(256)
	w.Add(1)

	require.NoError(t, w.Contribute(1, 256))
	assert.Equal(t, 256, w.Commit())
	assert.Equal(t, 0, w.Pending(1))

	require.NoError(t, w.Contribute(1, 50))
	assert.Equal(t, 50, w.Commit())
}
