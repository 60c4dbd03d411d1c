// Package model defines shared types for the document gateway.
package model

import "io"

// UploadedFile describes one file part of a multipart upload. Body is read
// once and must be closed by whoever consumes it.
type UploadedFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// FileResult is the orchestration service's decoded answer for one uploaded file.
type FileResult map[string]string

// FileSource yields uploaded files in arrival order. Next returns io.EOF once
// no files remain.
type FileSource interface {
	Next() (*UploadedFile, error)
}
