package logparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lei/actions-ledger/internal/models"
)

const sampleLog = "2024-05-01T10:00:00.0Z ##[group]Runner Image\n" +
	"2024-05-01T10:00:00.1Z Image: ubuntu-22.04\n" +
	"2024-05-01T10:00:00.2Z ##[endgroup]\n" +
	"2024-05-01T10:00:01.0Z ##[group]Run actions/checkout@v4\n" +
	"2024-05-01T10:00:01.1Z with:\n" +
	"2024-05-01T10:00:01.2Z ##[endgroup]\n" +
	"2024-05-01T10:00:01.3Z Syncing repository\n" +
	"2024-05-01T10:00:02.0Z ##[group]Run npm ci\n" +
	"2024-05-01T10:00:02.1Z \x1b[32madded 120 packages\x1b[0m\n" +
	"2024-05-01T10:00:03.0Z ##[group]Run npm test\n" +
	"2024-05-01T10:00:03.1Z ##[group]Environment\n" +
	"2024-05-01T10:00:03.2Z ##[endgroup]\n" +
	"2024-05-01T10:00:03.3Z 12 passing"

func steps(n int) []models.Step {
	out := make([]models.Step, n)
	for i := range out {
		out[i] = models.Step{JobID: 1, Number: i + 1, Name: "step"}
	}
	return out
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"\x1b[32mOK\x1b[0m", "OK"},
		{"\x1b[1;31mFAIL\x1b[0m: boom", "FAIL: boom"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripANSI(tt.in))
	}
}

func TestBoundaries(t *testing.T) {
	lines := strings.Split(sampleLog, "\n")
	// first fold, then the three "Run " folds; nested "Environment" is not a boundary
	assert.Equal(t, []int{0, 3, 7, 9}, Boundaries(lines))
}

func TestBoundaries_NoFolds(t *testing.T) {
	assert.Empty(t, Boundaries([]string{"hello", "world"}))
}

func TestSegment_OneExcerptPerBoundary(t *testing.T) {
	out := Segment(sampleLog, steps(4))
	require.Len(t, out, 4)

	for i, s := range out {
		require.NotNil(t, s.LogContent, "step %d", i)
		assert.Equal(t, i+1, s.Number)
	}

	assert.True(t, strings.HasSuffix(strings.Split(*out[0].LogContent, "\n")[0], "##[group]Runner Image"))
	assert.Contains(t, *out[1].LogContent, "Run actions/checkout@v4")
	assert.Contains(t, *out[1].LogContent, "Syncing repository")
	assert.NotContains(t, *out[1].LogContent, "npm ci")
	assert.Contains(t, *out[2].LogContent, "added 120 packages")
	assert.NotContains(t, *out[2].LogContent, "\x1b[")
	assert.Contains(t, *out[3].LogContent, "12 passing")

	// excerpts are non-overlapping and together cover the log
	var joined []string
	for _, s := range out {
		joined = append(joined, *s.LogContent)
	}
	assert.Equal(t, StripANSI(sampleLog), strings.Join(joined, "\n"))
}

func TestSegment_ExtraStepsGetEmptyExcerpt(t *testing.T) {
	out := Segment(sampleLog, steps(5))
	require.Len(t, out, 5)
	require.NotNil(t, out[4].LogContent)
	assert.Equal(t, "", *out[4].LogContent)
	assert.NotEmpty(t, *out[3].LogContent)
}

func TestSegment_FewerStepsThanBoundaries(t *testing.T) {
	out := Segment(sampleLog, steps(2))
	require.Len(t, out, 2)
	assert.Contains(t, *out[1].LogContent, "Run actions/checkout@v4")
	assert.NotContains(t, *out[1].LogContent, "npm ci")
}

func TestSegment_EmptyLog(t *testing.T) {
	out := Segment("", steps(2))
	for _, s := range out {
		require.NotNil(t, s.LogContent)
		assert.Equal(t, "", *s.LogContent)
	}
}

func TestSegment_DoesNotMutateInput(t *testing.T) {
	in := steps(1)
	_ = Segment(sampleLog, in)
	assert.Nil(t, in[0].LogContent)
}
