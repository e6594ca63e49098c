package database

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"go-curseforge-resolver/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history", "resolver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGet_RoundTripsCompressedValue(t *testing.T) {
	db := openTestDB(t)
	value := bytes.Repeat([]byte("curseforge "), 100)

	require.NoError(t, db.Put([]byte("k"), value))

	raw, err := db.db.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, gzipMagicBytes), "stored value is gzipped")
	assert.Less(t, len(raw), len(value))

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestGet_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get([]byte("missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(db.Delete([]byte("missing")), ErrNotFound))
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	require.NoError(t, db.Delete([]byte("k")))
	_, err := db.Get([]byte("k"))
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.True(t, errors.Is(db.Delete([]byte("k")), ErrNotFound), "second delete finds nothing")
	assert.True(t, errors.Is(db.Delete([]byte("never-written")), ErrNotFound))
}

func TestDecompressIfGzipped_PlainValuePassesThrough(t *testing.T) {
	got, err := decompressIfGzipped([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), got)
}

func TestRecords(t *testing.T) {
	db := openTestDB(t)

	direct := models.ResolutionRecord{ItemID: "a", FileID: 10, ProjectID: 1, Status: models.StatusDirect, URL: "https://edge.example/a.jar", Timestamp: 1}
	failed := models.ResolutionRecord{ItemID: "shaders", Status: models.StatusFailed, ErrorDetails: "no curseforge locator", Timestamp: 2}

	require.NoError(t, db.PutRecord("f_10", direct))
	require.NoError(t, db.PutRecord("i_shaders", failed))
	require.NoError(t, db.Put([]byte("meta_version"), []byte("1")))

	got, err := db.GetRecord("f_10")
	require.NoError(t, err)
	assert.Equal(t, direct, got)

	_, err = db.GetRecord("f_99")
	assert.True(t, errors.Is(err, ErrNotFound))

	seen := map[string]models.ResolutionRecord{}
	require.NoError(t, db.FoldRecords(func(key string, rec models.ResolutionRecord) error {
		seen[key] = rec
		return nil
	}))
	assert.Len(t, seen, 2, "non-record keys are skipped")
	assert.Equal(t, failed, seen["i_shaders"])
}

func TestFoldRecords_StopsOnCallbackError(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.PutRecord("f_1", models.ResolutionRecord{ItemID: "a"}))
	require.NoError(t, db.PutRecord("f_2", models.ResolutionRecord{ItemID: "b"}))

	stop := errors.New("stop")
	calls := 0
	err := db.FoldRecords(func(string, models.ResolutionRecord) error {
		calls++
		return stop
	})
	assert.True(t, errors.Is(err, stop))
	assert.Equal(t, 1, calls)
}
