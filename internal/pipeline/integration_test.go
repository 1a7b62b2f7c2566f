package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/pkg/fetch"
	"pdf-ingest-go/pkg/tika"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoPageXHTML = `<html xmlns="http://www.w3.org/1999/xhtml"><head><title>fixture</title></head><body>
<div class="page"><p>Quarterly report</p><p>Revenue grew.</p></div>
<div class="page"><p>Outlook</p></div>
</body></html>`

// TestPipeline_WithHTTPCollaborators 使用真实的下载与 Tika 客户端对接假服务。
func TestPipeline_WithHTTPCollaborators(t *testing.T) {
	objects := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/f/key-1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4\n%fixture"))
	}))
	defer objects.Close()

	tikaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-1.4\n%fixture", string(body))
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(twoPageXHTML))
	}))
	defer tikaSrv.Close()

	h := newHarness(t)
	p := New(Deps{
		Sessions:  h.sessions,
		Files:     h.files,
		Fetcher:   fetch.NewClient(config.FetchConfig{Timeout: 5 * time.Second}, 1<<20),
		Parser:    tika.NewClient(config.TikaConfig{ServerURL: tikaSrv.URL, Timeout: 5 * time.Second}),
		Embedder:  h.embedder,
		Store:     h.store,
		PublicURL: func(key string) string { return objects.URL + "/f/" + key },
	})

	res, err := p.Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Pages)

	vectors := h.store.namespaces[res.FileID]
	require.Len(t, vectors, 2)
	assert.Equal(t, "Quarterly report\nRevenue grew.", vectors[0].Text)
	assert.Equal(t, "Outlook", vectors[1].Text)

	// 对象不存在时记为下载失败
	missing, err := p.Handle(context.Background(), Metadata{}, UploadedFile{Key: "missing", Name: "m.pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, missing.Status)
	assert.Equal(t, StageFetch, missing.FailedStage)
}
