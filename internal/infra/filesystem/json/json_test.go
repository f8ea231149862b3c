package json

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.json")

	type doc struct {
		Salt  string   `json:"salt"`
		Calls []string `json:"calls"`
	}

	require.NoError(t, NewWriter().WriteJSON(path, doc{Salt: "0x01", Calls: []string{"a", "b"}}))

	exists, err := NewReader().Exists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	var got doc
	require.NoError(t, NewReader().ReadJSON(path, &got))
	assert.Equal(t, doc{Salt: "0x01", Calls: []string{"a", "b"}}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestReadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	exists, err := NewReader().Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	var target map[string]any
	err = NewReader().ReadJSON(path, &target)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
