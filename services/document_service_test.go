package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newDocumentServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/reports/q1 summary.png":
			_, _ = w.Write(pngHeader)
		case "/big.txt":
			_, _ = w.Write([]byte(strings.Repeat("a", 64)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDocumentClient_FetchSniffsType(t *testing.T) {
	srv := newDocumentServer(t)
	d := NewDocumentClient(srv.URL, 1024, zerolog.Nop())

	doc, err := d.Fetch(context.Background(), "reports/q1 summary.png")
	require.NoError(t, err)
	assert.Equal(t, "q1 summary.png", doc.Name)
	assert.Equal(t, "image/png", doc.MimeType)
	assert.Equal(t, pngHeader, doc.Data)
}

func TestDocumentClient_Errors(t *testing.T) {
	srv := newDocumentServer(t)
	d := NewDocumentClient(srv.URL, 32, zerolog.Nop())

	_, err := d.Fetch(context.Background(), "missing.pdf")
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = d.Fetch(context.Background(), "big.txt")
	assert.ErrorContains(t, err, "exceeds 32 bytes")

	_, err = d.Fetch(context.Background(), "../etc/passwd")
	assert.ErrorContains(t, err, "not allowed")

	_, err = d.Fetch(context.Background(), "  ")
	assert.Error(t, err)
}
