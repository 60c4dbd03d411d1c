package service

import "fmt"

// BodyReadError reports a failure reading the inbound request body or one of
// its multipart parts.
type BodyReadError struct {
	Err error
}

func (e *BodyReadError) Error() string { return fmt.Sprintf("read request body: %v", e.Err) }

func (e *BodyReadError) Unwrap() error { return e.Err }

// DecodeError reports an orchestration answer for an uploaded file that is
// not a JSON object of string values.
type DecodeError struct {
	File string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode result for %q: %v", e.File, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
