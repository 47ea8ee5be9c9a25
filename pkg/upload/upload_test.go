// Copyright 2024-2026 The avbot Authors

package upload

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPost(t *testing.T) {
	t.Parallel()
	fileBytes := []byte{0x1f, 0x8b, 0x00, 0xff, 0xfe}

	var gotFields map[string][]string
	var gotFile []byte
	var gotFileName string
	var gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		gotFields = r.MultipartForm.Value
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer file.Close()
		gotFileName = header.Filename
		gotFile, _ = io.ReadAll(file)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	resp, err := Post(context.Background(), srv.Client(), srv.URL,
		"study.tar.bz2", "file",
		FormArgs{"username": "cai", "token": "t0k3n"},
		bytes.NewReader(fileBytes))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if !strings.Contains(gotContentType, "multipart/form-data; boundary=----AvBotFormBoundary") {
		t.Errorf("content type: %q", gotContentType)
	}
	if got := gotFields["username"]; len(got) != 1 || got[0] != "cai" {
		t.Errorf("username field: %v", got)
	}
	if got := gotFields["token"]; len(got) != 1 || got[0] != "t0k3n" {
		t.Errorf("token field: %v", got)
	}
	if gotFileName != "study.tar.bz2" {
		t.Errorf("file name: %q", gotFileName)
	}
	if !bytes.Equal(gotFile, fileBytes) {
		t.Errorf("file bytes not preserved: %x", gotFile)
	}
}

func TestPostBadURL(t *testing.T) {
	t.Parallel()
	_, err := Post(context.Background(), nil, "http://127.0.0.1:1/upload",
		"f.bin", "file", nil, strings.NewReader("x"))
	if err == nil {
		t.Error("Post to a closed port should fail")
	}
}
