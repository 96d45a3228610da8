package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalDialer syncs onto a locally mounted path (NFS, CIFS, a second disk)
type LocalDialer struct {
	Root string
}

// Destination returns file://root
func (d LocalDialer) Destination() string {
	return "file://" + d.Root
}

// Dial checks the root exists
func (d LocalDialer) Dial(context.Context) (RemoteFS, error) {
	info, err := os.Stat(d.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "dial", Path: d.Root, Err: os.ErrInvalid}
	}
	return localFS{}, nil
}

// localFS takes remote paths as absolute local paths
type localFS struct{}

func (localFS) MkdirAll(dir string) error {
	return os.MkdirAll(filepath.FromSlash(dir), 0755)
}

// Put copies to a temporary name in the destination directory and renames it
// into place so readers never see a partial artifact
func (localFS) Put(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := filepath.FromSlash(remotePath)
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (localFS) Close() error { return nil }

// ctxReader stops a copy once the context is cancelled
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
