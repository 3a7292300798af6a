package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordUploadAndList(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordUpload(Record{
		Path:        "/cam/a.jpg",
		ArchivePath: "/cam/uploaded/a.jpg",
		Size:        2048,
		Attempts:    1,
	}))

	records, err := j.ListUploads(0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "/cam/a.jpg", rec.Path)
	assert.Equal(t, "/cam/uploaded/a.jpg", rec.ArchivePath)
	assert.Equal(t, int64(2048), rec.Size)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, OutcomeUploaded, rec.Outcome)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CompletedAt.IsZero())
}

func TestListUploadsNewestFirstAndLimited(t *testing.T) {
	j := openTestJournal(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordUpload(Record{
			Path:        "/cam/a.jpg",
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := j.ListUploads(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].CompletedAt.After(records[1].CompletedAt))
	assert.True(t, records[1].CompletedAt.After(records[2].CompletedAt))
}

func TestRecordFailureAndLookup(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordFailure(Record{
		Path:     "/cam/bad.jpg",
		Attempts: 5,
		Error:    "server responded 400 Bad Request",
	}))

	failed, err := j.HasFailure("/cam/bad.jpg")
	require.NoError(t, err)
	assert.True(t, failed)

	failed, err = j.HasFailure("/cam/good.jpg")
	require.NoError(t, err)
	assert.False(t, failed)

	records, err := j.ListFailures(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeFailed, records[0].Outcome)
	assert.Equal(t, 5, records[0].Attempts)
}

func TestClearFailure(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordFailure(Record{Path: "/cam/bad.jpg"}))
	require.NoError(t, j.ClearFailure("/cam/bad.jpg"))

	failed, err := j.HasFailure("/cam/bad.jpg")
	require.NoError(t, err)
	assert.False(t, failed)

	// Clearing a path that was never recorded is not an error.
	require.NoError(t, j.ClearFailure("/cam/unknown.jpg"))
}

func TestUploadSupersedesFailure(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordFailure(Record{Path: "/cam/flaky.jpg"}))
	require.NoError(t, j.RecordUpload(Record{Path: "/cam/flaky.jpg", Attempts: 3}))

	failed, err := j.HasFailure("/cam/flaky.jpg")
	require.NoError(t, err)
	assert.False(t, failed, "a successful upload must clear the failure record")
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.RecordUpload(Record{Path: "/cam/a.jpg"}))
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	records, err := j.ListUploads(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
