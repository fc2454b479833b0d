package report

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// Uploader ships a serialized report to external storage.
type Uploader interface {
	Upload(ctx context.Context, raw []byte) error
}

// HTTPUploader posts the report JSON to a configured endpoint.
type HTTPUploader struct {
	url    string
	client *http.Client
}

// NewHTTPUploader creates an uploader targeting url.
func NewHTTPUploader(url string) *HTTPUploader {
	return &HTTPUploader{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload posts raw to the endpoint.
func (u *HTTPUploader) Upload(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload rejected: %s", resp.Status)
	}
	return nil
}

// Dispatch hands the report to the uploader fire-and-forget: it runs in the
// background with its own timeout and only ever logs failures. A broken
// sink must never block or fail the run.
func Dispatch(uploader Uploader, raw []byte, logger *logging.Logger) {
	if uploader == nil {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := uploader.Upload(ctx, raw); err != nil {
			logger.Warnf("report upload failed: %v", err)
			return
		}
		logger.Infof("report uploaded (%d bytes)", len(raw))
	}()
}
