package services

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"gent/models"
)

// DocumentClient downloads files from the document service for get_document.
type DocumentClient struct {
	client   *resty.Client
	maxBytes int64
	log      zerolog.Logger
}

func NewDocumentClient(baseURL string, maxBytes int64, log zerolog.Logger) *DocumentClient {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second)
	return &DocumentClient{client: c, maxBytes: maxBytes, log: log.With().Str("component", "documents").Logger()}
}

// cleanDocumentPath rejects paths that escape the document root.
func cleanDocumentPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("document path is empty")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("document path %q is not allowed", p)
		}
	}
	return path.Clean("/" + p), nil
}

// Fetch downloads the document at p and sniffs its MIME type from the content.
func (d *DocumentClient) Fetch(ctx context.Context, p string) (*models.Document, error) {
	clean, err := cleanDocumentPath(p)
	if err != nil {
		return nil, err
	}

	segments := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/" + strings.Join(segments, "/"))
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", clean, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("fetch document %s: HTTP %d", clean, resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", clean, err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", clean, d.maxBytes)
	}

	mt := mimetype.Detect(data)
	d.log.Debug().Str("path", clean).Str("mime", mt.String()).Int("size", len(data)).Msg("document fetched")
	return &models.Document{
		Name:     path.Base(clean),
		MimeType: mt.String(),
		Data:     data,
	}, nil
}
