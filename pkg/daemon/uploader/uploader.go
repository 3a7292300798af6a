// Package uploader sends image files to the remote ingestion endpoint and
// classifies failures as transient (retryable) or permanent.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Class categorizes upload failures for retry policy.
type Class int

// Failure classes.
const (
	// ClassTransient failures (network errors, timeouts, 5xx) are retried.
	ClassTransient Class = iota
	// ClassPermanent failures (rejections, validation errors) are not.
	ClassPermanent
)

// String returns the class name.
func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified upload failure.
type Error struct {
	Class      Class
	StatusCode int // zero when the request never reached the server
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed (%s, status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload failed (%s): %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns the failure class of an upload error. Errors that are
// not *Error (unexpected I/O failures and the like) default to transient,
// since retrying is the safe choice.
func Classify(err error) Class {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Class
	}
	return ClassTransient
}

// Uploader sends one file to remote storage.
type Uploader interface {
	// Upload sends the file at path. A nil return means the remote
	// accepted the file. A non-nil return is an *Error carrying the
	// retry classification.
	Upload(ctx context.Context, path string) error
}

// HTTPUploader posts files as multipart/form-data to a fixed endpoint,
// matching what the ingestion service expects from the camera producer.
type HTTPUploader struct {
	endpoint  string
	fieldName string
	client    *http.Client
}

// NewHTTP creates an uploader for the given endpoint. The timeout bounds
// the whole request including the body transfer.
func NewHTTP(endpoint, fieldName string, timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		endpoint:  endpoint,
		fieldName: fieldName,
		client:    &http.Client{Timeout: timeout},
	}
}

// Upload reads the file and posts it to the endpoint. The file must be
// fully readable at the moment of dispatch; a read error is transient
// because the usual cause is contention with the producer.
func (u *HTTPUploader) Upload(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Class: ClassTransient, Err: fmt.Errorf("reading file: %w", err)}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(u.fieldName, filepath.Base(path))
	if err != nil {
		return &Error{Class: ClassTransient, Err: fmt.Errorf("building form: %w", err)}
	}
	if _, err := part.Write(data); err != nil {
		return &Error{Class: ClassTransient, Err: fmt.Errorf("writing form: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &Error{Class: ClassTransient, Err: fmt.Errorf("closing form: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return &Error{Class: ClassPermanent, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		// Network errors and timeouts never reached the server.
		return &Error{Class: ClassTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	respErr := fmt.Errorf("server responded %s: %s", resp.Status, bytes.TrimSpace(snippet))

	return &Error{
		Class:      classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Err:        respErr,
	}
}

// classifyStatus maps an HTTP status to a failure class. Request timeout
// and rate limiting are retryable despite being 4xx.
func classifyStatus(status int) Class {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 400 && status < 500:
		return ClassPermanent
	default:
		return ClassTransient
	}
}
