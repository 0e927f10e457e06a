// Package safeio reads single files through an os.DirFS rooted at their
// directory, so a name can never climb out of it.
package safeio

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func ReadFileByPath(path string) ([]byte, error) {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	return ReadFileFromDir(dir, name)
}

func ReadFileFromDir(dir, name string) ([]byte, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid file name: %q", name)
	}
	return fs.ReadFile(os.DirFS(dir), name)
}
