package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Uploader stores a screenshot at a presigned URL.
type Uploader interface {
	Upload(ctx context.Context, url string, png []byte) error
}

// HTTPUploader PUTs screenshots to presigned object storage URLs.
type HTTPUploader struct {
	Client *http.Client
}

func NewHTTPUploader(timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{Client: &http.Client{Timeout: timeout}}
}

func (u *HTTPUploader) Upload(ctx context.Context, url string, png []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(png))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := u.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upload returned %s", resp.Status)
	}
	return nil
}
