package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	"docgateway/internal/model"
)

// multipartSource yields the file parts of a multipart body in arrival order.
// Each part is spooled before it is returned so that its length is known:
// parts up to memLimit bytes stay in memory, larger ones go to a temp file
// that is removed when the returned body is closed.
type multipartSource struct {
	reader   *multipart.Reader
	memLimit int64
	tempDir  string
}

// Next implements model.FileSource.
func (s *multipartSource) Next() (*model.UploadedFile, error) {
	for {
		part, err := s.reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() == "" {
			// Plain form field.
			_ = part.Close()
			continue
		}

		body, size, err := spool(part, s.memLimit, s.tempDir)
		_ = part.Close()
		if err != nil {
			return nil, fmt.Errorf("spool %q: %w", part.FileName(), err)
		}

		return &model.UploadedFile{
			Name:        part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        size,
			Body:        body,
		}, nil
	}
}

// spool copies r into memory, overflowing to a temp file past memLimit bytes.
func spool(r io.Reader, memLimit int64, dir string) (io.ReadCloser, int64, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, memLimit+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	if n <= memLimit {
		return io.NopCloser(&buf), n, nil
	}

	f, err := os.CreateTemp(dir, "docgateway-upload-*")
	if err != nil {
		return nil, 0, err
	}
	tf := &tempFile{File: f}

	size, err := io.Copy(f, io.MultiReader(&buf, r))
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = tf.Close()
		return nil, 0, err
	}
	return tf, size, nil
}

// tempFile removes itself from disk on Close.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.File.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
