package archive

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// ErrSourceFileMissing is returned when a file recorded in the manifest no
// longer exists at build time. Callers skip the file and keep going.
var ErrSourceFileMissing = errors.New("source file missing")

// CheckSource returns nil when path is an existing regular file.
func CheckSource(fsys afero.Fs, path string) error {
	info, err := fsys.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSourceFileMissing, path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceFileMissing, path)
	}
	return nil
}
