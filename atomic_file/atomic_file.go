package atomic_file

import (
	"io"
	"os"
	"path/filepath"
)

// Write replaces path with data. Readers see either the old file or the new
// one, never a partial write.
func Write(path string, data []byte) error {
	return WriteFunc(path, func(w io.Writer) error {
		_, err := w.Write(data)

		return err
	})
}

// WriteFunc streams the new content of path through write into a temp file in
// the same directory, then renames it into place. Missing parent directories
// are created. On any error the temp file is removed and path is untouched.
func WriteFunc(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	err = write(tmp)

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmpName, path)
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return err
	}

	return nil
}
