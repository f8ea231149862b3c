package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Reader reads JSON documents such as the migration journal and address files.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// ReadJSON reads and unmarshals JSON from a file. A missing file yields an
// error matching fs.ErrNotExist.
func (r *Reader) ReadJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

func (r *Reader) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat '%s': %w", path, err)
	}
}
