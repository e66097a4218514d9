// Package local implements a storage adaptor over the local filesystem, for
// storage resources mounted on the execution host.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/seantiz/gantry/internal/storage"
)

// Compile-time interface satisfaction checks.
var (
	_ storage.Adaptor = (*Adaptor)(nil)
	_ storage.Factory = Factory{}
)

// Factory opens local adaptors. Credentials are ignored.
type Factory struct{}

// Open returns a new adaptor. It never fails.
func (Factory) Open(context.Context, storage.Endpoint) (storage.Adaptor, error) {
	return &Adaptor{}, nil
}

// Adaptor copies files between local paths.
type Adaptor struct{}

// Download copies remotePath to localPath.
func (a *Adaptor) Download(ctx context.Context, remotePath, localPath string) error {
	if err := copyFile(ctx, remotePath, localPath); err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return nil
}

// Upload copies localPath to remotePath.
func (a *Adaptor) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := copyFile(ctx, localPath, remotePath); err != nil {
		return fmt.Errorf("upload %s: %w", localPath, err)
	}
	return nil
}

// CreateDirectory creates path, including parents when recursive is set.
// An existing directory is not an error.
func (a *Adaptor) CreateDirectory(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if recursive {
		return os.MkdirAll(path, 0o755)
	}
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// Close is a no-op.
func (a *Adaptor) Close() error {
	return nil
}

// copyFile writes src to a temporary file next to dst and renames it into
// place, so dst never holds a partial copy.
func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".gantry-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	stop := context.AfterFunc(ctx, func() { in.Close() })
	_, copyErr := io.Copy(tmp, in)
	stop()
	closeErr := tmp.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	return os.Rename(tmpName, dst)
}
