package classmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	m := Default()
	require.Len(t, m["total"], 117)
	assert.Equal(t, "spleen", m.Lookup("total", 1))
	assert.Equal(t, "liver", m.Lookup("total", 5))
	assert.Equal(t, "costal_cartilages", m.Lookup("total", 117))
	assert.Equal(t, "brain", m.Lookup("total_mr", 50))
	assert.Contains(t, m.Tasks(), "lung_vessels")
}

func TestLookupFallback(t *testing.T) {
	m := Default()
	assert.Equal(t, "118", m.Lookup("total", 118))
	assert.Equal(t, "3", m.Lookup("unknown_task", 3))
	assert.Equal(t, "7", ClassMap(nil).Lookup("total", 7))
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"total": {"1": "liver"}}`), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ClassMap{"total": {1: "liver"}}, m)
	assert.Equal(t, "liver", m.Lookup("total", 1))
	assert.Equal(t, "2", m.Lookup("total", 2))
}

func TestParseErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"not a mapping": `[1, 2]`,
		"label text":    `total: {abc: liver}`,
		"background":    `total: {0: background}`,
		"empty name":    `total: {1: ""}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := ClassMap{"total": {1: "spleen", 2: "kidney_right"}}
	merged := base.Merge(ClassMap{"total": {1: "liver"}, "custom": {4: "tumor"}})

	assert.Equal(t, "liver", merged.Lookup("total", 1))
	assert.Equal(t, "kidney_right", merged.Lookup("total", 2))
	assert.Equal(t, "tumor", merged.Lookup("custom", 4))
	assert.Equal(t, "spleen", base.Lookup("total", 1), "merge must not modify the receiver")
}
