package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuessMime(t *testing.T) {
	cases := map[string]string{
		"photo.png":   "image/png",
		"clip.webm":   "video/webm",
		"notes.md":    "text/markdown",
		"archive.bin": "application/octet-stream",
		"noext":       "application/octet-stream",
	}
	for name, want := range cases {
		if got := guessMime(name); got != want {
			t.Errorf("guessMime(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestAttachmentTypeFor(t *testing.T) {
	if attachmentTypeFor("image/webp") != AttachmentImage {
		t.Error("image mime must classify as IMAGE")
	}
	if attachmentTypeFor("video/mp4") != AttachmentVideo {
		t.Error("video mime must classify as VIDEO")
	}
	if attachmentTypeFor("application/pdf") != AttachmentFile {
		t.Error("other mime must classify as FILE")
	}
}

func TestUploader_PresignThenUpload(t *testing.T) {
	var uploadedBody []byte
	var uploadAuth string
	blobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploadAuth = r.Header.Get("Authorization")
		uploadedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer blobSrv.Close()

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		var req PresignRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Type != AttachmentImage || req.Size != 3 {
			t.Errorf("presign request = %+v", req)
		}
		writeOK(w, PresignGrant{
			UploadURL:   blobSrv.URL,
			UploadToken: "upload-tok",
			Path:        "org-1/cat.png",
			Bucket:      "attachments",
			URL:         "https://cdn.example.com/cat.png",
		})
	})

	u := &uploader{store: store, httpClient: http.DefaultClient}
	att, err := u.upload(context.Background(), UploadFile{Name: "cat.png", Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if string(uploadedBody) != "\x01\x02\x03" {
		t.Error("raw bytes not uploaded")
	}
	if uploadAuth != "Bearer upload-tok" {
		t.Errorf("upload auth = %q", uploadAuth)
	}
	if att.URL != "https://cdn.example.com/cat.png" || att.Type != AttachmentImage {
		t.Errorf("attachment = %+v", att)
	}
	if att.Metadata["path"] != "org-1/cat.png" {
		t.Errorf("metadata = %+v", att.Metadata)
	}
}

func TestUploader_FailedUploadAbortsSend(t *testing.T) {
	blobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer blobSrv.Close()

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, PresignGrant{UploadURL: blobSrv.URL, URL: "https://cdn.example.com/x"})
	})

	u := &uploader{store: store, httpClient: http.DefaultClient}
	_, err := u.upload(context.Background(), UploadFile{Name: "big.mov", Data: make([]byte, 8)})
	var uerr *UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected *UploadError, got %T: %v", err, err)
	}
	if uerr.FileName != "big.mov" {
		t.Errorf("file name = %q", uerr.FileName)
	}
}
