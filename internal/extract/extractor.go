package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"code.sajari.com/docconv"
)

var (
	// ErrUnsupportedType marks a mime type the extractor cannot turn into
	// text. Callers treat this as a soft per-document failure.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrEmptyContent marks a document that yielded no usable text.
	ErrEmptyContent = errors.New("no content extracted")
)

const (
	mimePDF  = "application/pdf"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extractor pulls a remote document and converts it to plain text.
type Extractor struct {
	client *http.Client
}

func NewExtractor(client *http.Client) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Extractor{client: client}
}

// ExtractRemote fetches url and extracts text according to mimeType.
// PDF and DOCX go through docconv; text/* bodies pass through as-is.
func (e *Extractor) ExtractRemote(ctx context.Context, url, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}

	content, err := e.fromBytes(body, mimeType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}

	slog.DebugContext(ctx, "content extracted", "url", url, "mime_type", mimeType, "length", len(content))
	return content, nil
}

func (e *Extractor) fromBytes(body []byte, mimeType string) (string, error) {
	switch {
	case mimeType == mimePDF, mimeType == mimeDocx:
		res, err := docconv.Convert(bytes.NewReader(body), mimeType, true)
		if err != nil {
			return "", fmt.Errorf("converting %s: %w", mimeType, err)
		}
		return res.Body, nil
	case strings.HasPrefix(mimeType, "text/"):
		return string(body), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}
