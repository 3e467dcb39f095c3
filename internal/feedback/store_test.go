package feedback

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel/internal/models"
)

func TestAppendWritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	s := NewStore(path)

	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a1", Accepted: true}))
	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a2", CorrectionText: "the fee is $20", Accepted: false}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	assert.Len(t, lines, 2)

	recs, err := s.All()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a1", recs[0].AnswerRecordID)
	assert.Equal(t, "a2", recs[1].AnswerRecordID)
	assert.False(t, recs[0].SubmittedAt.IsZero())
}

func TestAppendRejectsMissingAnswerID(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "feedback.jsonl"))
	assert.Error(t, s.Append(models.FeedbackRecord{}))
}

func TestCountSince(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "feedback.jsonl"))
	base := time.Now().UTC()

	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a1", SubmittedAt: base.Add(-time.Hour)}))
	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a2", SubmittedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a3", SubmittedAt: base.Add(2 * time.Minute)}))

	n, err := s.CountSince(base)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAcceptedFilters(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "feedback.jsonl"))
	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a1", Accepted: true}))
	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a2", Accepted: false}))
	require.NoError(t, s.Append(models.FeedbackRecord{AnswerRecordID: "a3", Accepted: true}))

	recs, err := s.Accepted()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a1", recs[0].AnswerRecordID)
	assert.Equal(t, "a3", recs[1].AnswerRecordID)
}

func TestAllMissingFileIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "feedback.jsonl"))
	recs, err := s.All()
	require.NoError(t, err)
	assert.Empty(t, recs)
}
