package analysis

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidUploadName = errors.New("analysis: invalid upload name")

// Uploads stores accepted images in a flat directory under generated names.
type Uploads struct {
	dir string
}

func NewUploads(dir string) (*Uploads, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Uploads{dir: dir}, nil
}

func (u *Uploads) Dir() string {
	return u.dir
}

// Save writes data under a new uuid name that keeps the original extension.
func (u *Uploads) Save(original string, data []byte) (string, error) {
	name := uuid.New().String() + strings.ToLower(filepath.Ext(original))
	if err := os.WriteFile(filepath.Join(u.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return name, nil
}

// Path resolves a stored name, rejecting anything that is not a plain file
// name inside the upload directory.
func (u *Uploads) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidUploadName
	}
	return filepath.Join(u.dir, name), nil
}

// Remove deletes a stored image. A missing file is not an error.
func (u *Uploads) Remove(name string) error {
	path, err := u.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
