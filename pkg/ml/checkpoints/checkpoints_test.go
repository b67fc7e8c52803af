package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T, numHeads int, seed uint64) models.Model {
	m, err := models.New(models.Spec{Name: "shallow", NumHeads: numHeads, NumClasses: 5, ImageSize: 4, Channels: 3, Seed: seed})
	require.NoError(t, err)
	return m
}

func TestSaveLoad(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "net_weights", "entire_leaf", "shallow")
	exists, err := Exists(basePath)
	require.NoError(t, err)
	assert.False(t, exists)

	saved := newModel(t, 2, 1)
	require.NoError(t, Save(basePath, saved))
	exists, err = Exists(basePath)
	require.NoError(t, err)
	assert.True(t, exists)

	loaded := newModel(t, 2, 2)
	assert.NotEqual(t, saved.Params()[0].Value.RawMatrix().Data, loaded.Params()[0].Value.RawMatrix().Data)
	metadata, err := Load(basePath, loaded)
	require.NoError(t, err)
	assert.Equal(t, "shallow", metadata.ModelName)
	assert.Equal(t, 2, metadata.NumHeads)
	require.Len(t, metadata.Params, len(saved.Params()))
	for ii, p := range saved.Params() {
		assert.Equal(t, p.Name, metadata.Params[ii].Name)
		assert.Equal(t, p.Value.RawMatrix().Data, loaded.Params()[ii].Value.RawMatrix().Data)
	}

	info, err := os.Stat(DataPath(basePath))
	require.NoError(t, err)
	assert.Equal(t, int64(models.ParamsCount(saved)*8), info.Size())

	// Overwriting leaves no temporary files behind.
	require.NoError(t, Save(basePath, loaded))
	entries, err := os.ReadDir(filepath.Dir(basePath))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLoadMismatch(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "lesion")
	require.NoError(t, Save(basePath, newModel(t, 1, 1)))
	_, err := Load(basePath, newModel(t, 2, 1))
	require.ErrorContains(t, err, "heads")

	_, err = Load(filepath.Join(t.TempDir(), "missing"), newModel(t, 1, 1))
	require.Error(t, err)

	// Truncated data file.
	require.NoError(t, os.WriteFile(DataPath(basePath), []byte{1, 2, 3}, 0644))
	_, err = Load(basePath, newModel(t, 1, 1))
	require.ErrorContains(t, err, "doesn't fit")
}
