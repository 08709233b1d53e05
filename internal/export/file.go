package export

import (
	"context"
	"os"
	"path/filepath"

	"syncgate/internal/errs"
)

// FileSink writes exports under a local directory.
type FileSink struct {
	Dir string
}

func (f FileSink) Put(_ context.Context, name, _ string, body []byte) (string, error) {
	path := filepath.Join(f.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errs.Connection(err, "create export directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return "", errs.Connection(err, "create export file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", errs.Connection(err, "write export file")
	}
	if err := tmp.Close(); err != nil {
		return "", errs.Connection(err, "close export file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errs.Connection(err, "publish export file")
	}
	return path, nil
}
