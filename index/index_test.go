package index

import (
	"path/filepath"
	"testing"

	"go-curseforge-resolver/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemFromRecord(t *testing.T) {
	item := ItemFromRecord("f_10", models.ResolutionRecord{
		ItemID: "Fancy Mod", FileID: 10, ProjectID: 1, ModName: "Fancy",
		Status: models.StatusManual, Timestamp: 1700000000,
	})
	assert.Equal(t, "f_10", item.ID)
	assert.Equal(t, "mod_file", item.Type)
	assert.Equal(t, "Fancy Mod", item.Name)
	assert.Equal(t, int64(1700000000), item.ResolvedAt.Unix())
}

func TestIndexAndSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bleve")
	idx, err := OpenOrCreateIndex(path)
	require.NoError(t, err)

	require.NoError(t, IndexItems(idx, []Item{
		ItemFromRecord("f_10", models.ResolutionRecord{ItemID: "alpha", ModName: "Alpha Tools", Status: models.StatusDirect, URL: "https://edge.example/a.jar"}),
		ItemFromRecord("f_20", models.ResolutionRecord{ItemID: "beta", ModName: "Beta Blocks", Status: models.StatusManual}),
	}))
	require.NoError(t, IndexItems(idx, []Item{ItemFromRecord("i_shaders", models.ResolutionRecord{ItemID: "shaders", Status: models.StatusFailed})}))

	res, err := SearchIndex(idx, "+modName:blocks", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "f_20", res.Hits[0].ID)

	res, err = SearchIndex(idx, "shaders", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "i_shaders", res.Hits[0].ID)

	require.NoError(t, idx.Close())

	reopened, err := OpenOrCreateIndex(path)
	require.NoError(t, err)
	count, err := reopened.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
	require.NoError(t, reopened.Close())

	require.NoError(t, DeleteIndex(path))
	assert.NoDirExists(t, path)
}
