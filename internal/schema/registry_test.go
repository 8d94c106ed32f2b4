package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBundle(t *testing.T) Bundle {
	t.Helper()
	return Bundle{
		Schema:     testSchema(t),
		Classifier: json.RawMessage(`{"num_class":4,"trees":[]}`),
	}
}

func TestRegistry_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trained_models")
	reg := NewRegistry(dir)
	assert.False(t, reg.Exists())

	version, err := reg.Save(testBundle(t))
	require.NoError(t, err)
	assert.Equal(t, "v1", version)
	assert.True(t, reg.Exists())

	for _, name := range append(artifactFiles, ManifestFile) {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	loaded, err := reg.Load()
	require.NoError(t, err)
	assert.Equal(t, "v1", loaded.Schema.Version)
	assert.Equal(t, testSchema(t).FeatureNames, loaded.Schema.FeatureNames)
	assert.Equal(t, 4, loaded.Schema.LabelEncoder.Len())
	assert.JSONEq(t, `{"num_class":4,"trees":[]}`, string(loaded.Classifier))

	code, ok := loaded.Schema.CategoricalEncoders["consulting_category"].Encode("delivery")
	assert.True(t, ok)
	assert.Equal(t, 1, code)
}

func TestRegistry_SaveReplacesAndGeneratesVersion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	reg := NewRegistry(dir)

	_, err := reg.Save(testBundle(t))
	require.NoError(t, err)

	b := testBundle(t)
	b.Schema.Version = ""
	version, err := reg.Save(b)
	require.NoError(t, err)
	assert.NotEmpty(t, version)
	assert.NotEqual(t, "v1", version)

	loaded, err := reg.Load()
	require.NoError(t, err)
	assert.Equal(t, version, loaded.Schema.Version)

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "staging")
		assert.NotContains(t, e.Name(), "previous")
	}
}

func TestRegistry_LoadIncomplete(t *testing.T) {
	tests := []struct {
		corrupt func(t *testing.T, dir string)
		name    string
	}{
		{
			name:    "nothing saved",
			corrupt: func(t *testing.T, dir string) { require.NoError(t, os.RemoveAll(dir)) },
		},
		{
			name: "missing artifact",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, FeatureNamesFile)))
			},
		},
		{
			name: "version mismatch",
			corrupt: func(t *testing.T, dir string) {
				data := `{"version":"other","label_encoder":{"classes":["a","b"]}}`
				require.NoError(t, os.WriteFile(filepath.Join(dir, LabelEncoderFile), []byte(data), 0600))
			},
		},
		{
			name: "garbage artifact",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ClassifierFile), []byte("{"), 0600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "models")
			reg := NewRegistry(dir)
			_, err := reg.Save(testBundle(t))
			require.NoError(t, err)

			tt.corrupt(t, dir)

			_, err = reg.Load()
			assert.ErrorIs(t, err, common.ErrIncompleteBundle)
		})
	}
}

func TestRegistry_SaveRejectsInvalidBundle(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "models"))

	_, err := reg.Save(Bundle{})
	assert.ErrorIs(t, err, common.ErrIncompleteBundle)

	b := testBundle(t)
	b.Classifier = nil
	_, err = reg.Save(b)
	assert.ErrorIs(t, err, common.ErrIncompleteBundle)
	assert.False(t, reg.Exists())
}
