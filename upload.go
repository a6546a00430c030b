package chatsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// ============================================================================
// Attachment Uploads
// ============================================================================

// UploadFile is one attachment to send: raw bytes plus descriptive metadata.
type UploadFile struct {
	Name string
	Mime string
	Data []byte
}

// attachmentTypeFor maps a MIME type onto the rendering classification.
func attachmentTypeFor(mimeType string) AttachmentType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return AttachmentVideo
	default:
		return AttachmentFile
	}
}

// guessMime returns a MIME type from the file extension.
func guessMime(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}
	fallback := map[string]string{
		".md": "text/markdown", ".webp": "image/webp", ".webm": "video/webm",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

// uploader runs the presign-then-upload exchange against the object store.
// Every upload completes before the message request is issued, so a failed
// upload aborts the send with no partial message.
type uploader struct {
	store      *Store
	httpClient *http.Client
}

// upload pushes one file through presign → direct upload and returns the
// attachment descriptor for the message payload.
func (u *uploader) upload(ctx context.Context, file UploadFile) (Attachment, error) {
	mimeType := file.Mime
	if mimeType == "" {
		mimeType = guessMime(file.Name)
	}
	attType := attachmentTypeFor(mimeType)

	grant, err := u.store.PresignUpload(ctx, PresignRequest{
		Type: attType,
		Mime: mimeType,
		Size: int64(len(file.Data)),
		Metadata: map[string]any{
			"name": file.Name,
		},
	})
	if err != nil {
		return Attachment{}, &UploadError{FileName: file.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", grant.UploadURL, bytes.NewReader(file.Data))
	if err != nil {
		return Attachment{}, &UploadError{FileName: file.Name, Err: err}
	}
	req.Header.Set("Content-Type", mimeType)
	if grant.UploadToken != "" {
		req.Header.Set("Authorization", "Bearer "+grant.UploadToken)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return Attachment{}, &UploadError{FileName: file.Name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Attachment{}, &UploadError{
			FileName: file.Name,
			Err:      fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body)),
		}
	}

	return Attachment{
		Type: attType,
		URL:  grant.URL,
		Mime: mimeType,
		Size: int64(len(file.Data)),
		Metadata: map[string]any{
			"name":   file.Name,
			"path":   grant.Path,
			"bucket": grant.Bucket,
		},
	}, nil
}
