package joblog

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"
)

// Tail returns everything appended to path after offset and the offset to
// resume from. A missing file reads as empty. An offset past the end of the
// file means it was truncated, so reading restarts from the beginning.
func Tail(fsys afero.Fs, path string, offset int64) ([]byte, int64, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	size := info.Size()
	if offset < 0 || offset > size {
		offset = 0
	}
	if offset == size {
		return nil, offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	data := make([]byte, size-offset)
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, offset, err
	}
	return data[:n], offset + int64(n), nil
}

// Follow polls path every interval and hands new content to fn until ctx is done.
func Follow(ctx context.Context, fsys afero.Fs, path string, offset int64, interval time.Duration, fn func([]byte)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		data, next, err := Tail(fsys, path, offset)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			fn(data)
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
