package tradestation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSymbolsFromFile(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "symbols.txt")
	require.NoError(t, os.WriteFile(txt, []byte("# index\n@es\n@NQ  # nasdaq\n\n@ES\n"), 0o644))
	js := filepath.Join(dir, "symbols.json")
	require.NoError(t, os.WriteFile(js, []byte(`["@CL", " @gc ", "@CL"]`), 0o644))

	got, err := LoadSymbolsFromFile(txt)
	require.NoError(t, err)
	assert.Equal(t, []string{"@ES", "@NQ"}, got)

	got, err = LoadSymbolsFromFile(js)
	require.NoError(t, err)
	assert.Equal(t, []string{"@CL", "@GC"}, got)
}

func TestLoadSymbolsFromFile_Errors(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "symbols.csv")
	require.NoError(t, os.WriteFile(csv, []byte("@ES"), 0o644))

	_, err := LoadSymbolsFromFile(csv)
	assert.Error(t, err)

	_, err = LoadSymbolsFromFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
