// Copyright 2024-2026 The avbot Authors

// Package upload posts one file to an HTTP endpoint as a
// multipart/form-data request (RFC 1867 style web forms). It is
// self-contained and independent of the relay core.
package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FormArgs are the plain form fields sent ahead of the file part. Fields
// are emitted in sorted key order so requests are reproducible.
type FormArgs map[string]string

// boundary returns a fresh form boundary. The fixed prefix makes the
// requests easy to spot in packet captures; the UUID keeps it unique.
func boundary() string {
	return "----AvBotFormBoundary" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Post uploads content as field fieldName with the given file name, along
// with the form fields in args. The caller owns the returned response.
func Post(ctx context.Context, client *http.Client, url, fileName, fieldName string, args FormArgs, content io.Reader) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(boundary()); err != nil {
		return nil, fmt.Errorf("set boundary: %w", err)
	}

	go func() {
		pw.CloseWithError(writeForm(mw, fileName, fieldName, args, content))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload to %s: %w", url, err)
	}
	return resp, nil
}

func writeForm(mw *multipart.Writer, fileName, fieldName string, args FormArgs, content io.Reader) error {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, args[k]); err != nil {
			return fmt.Errorf("write field %q: %w", k, err)
		}
	}

	part, err := mw.CreateFormFile(fieldName, fileName)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("write file content: %w", err)
	}
	return mw.Close()
}
