package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/internal/pipeline"
	"pdf-ingest-go/internal/repository"
	"pdf-ingest-go/internal/service"
	"pdf-ingest-go/pkg/tasks"
	"pdf-ingest-go/pkg/token"
	"pdf-ingest-go/pkg/vectorstore"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubFetcher struct{ calls int }

func (f *stubFetcher) Get(context.Context, string) ([]byte, error) {
	f.calls++
	return []byte("%PDF-1.7\n"), nil
}

type stubParser struct{}

func (stubParser) ExtractPages(context.Context, io.Reader, string) ([]string, error) {
	return []string{"one", "two"}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type countingStore struct{ vectors int }

func (s *countingStore) Upsert(_ context.Context, _ string, records []vectorstore.Record) error {
	s.vectors += len(records)
	return nil
}

type memObjects struct{ puts int }

func (m *memObjects) PutObject(_ context.Context, _, _ string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	m.puts++
	_, err := io.Copy(io.Discard, r)
	return minio.UploadInfo{}, err
}

type testServer struct {
	engine     *gin.Engine
	jwt        *token.JWTManager
	files      repository.FileRepository
	fetcher    *stubFetcher
	store      *countingStore
	objects    *memObjects
	dispatched []tasks.UploadCompleteTask
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.File{}))

	ts := &testServer{
		jwt:     token.NewJWTManager("test-secret", 1),
		files:   repository.NewFileRepository(db),
		fetcher: &stubFetcher{},
		store:   &countingStore{},
		objects: &memObjects{},
	}
	p := pipeline.New(pipeline.Deps{
		Sessions:  token.ContextSessionResolver{},
		Files:     ts.files,
		Fetcher:   ts.fetcher,
		Parser:    stubParser{},
		Embedder:  stubEmbedder{},
		Store:     ts.store,
		PublicURL: func(key string) string { return "http://cdn.test/f/" + key },
	})
	uploads := service.NewUploadService(config.UploadConfig{
		RouteName:     "pdfUploader",
		AllowedTypes:  []string{"pdf"},
		MaxFileSizeMB: 1,
		PublicBaseURL: "http://cdn.test",
	}, "pdf-uploads", ts.objects, func(ctx context.Context, task tasks.UploadCompleteTask) error {
		ts.dispatched = append(ts.dispatched, task)
		return p.Process(ctx, task)
	})

	ts.engine = gin.New()
	RegisterRoutes(ts.engine, ts.jwt, NewUploadThingHandler(p, uploads), NewFileHandler(service.NewFileService(ts.files)))
	return ts
}

func (ts *testServer) bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.jwt.GenerateToken(userID, "name-"+userID)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func callbackRequest(body, auth string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploadthing/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func TestCallback(t *testing.T) {
	ts := newTestServer(t)
	body := `{"metadata":{"userId":"user-1"},"file":{"key":"k1","name":"a.pdf","url":"https://utfs.io/f/k1"}}`

	rec := ts.do(callbackRequest(body, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ts.fetcher.calls)

	rec = ts.do(callbackRequest(body, ts.bearer(t, "user-2")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, ts.fetcher.calls)

	rec = ts.do(callbackRequest(`{"metadata":{}}`, ts.bearer(t, "user-1")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(callbackRequest(body, ts.bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, rec.Code)
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, model.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 2, ts.store.vectors)

	// 重复回调不产生新的写入
	rec = ts.do(callbackRequest(body, ts.bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, ts.fetcher.calls)
}

func multipartRequest(t *testing.T, fileName string, content []byte, auth string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploadthing/pdfUploader", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)
	pdf := []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")

	rec := ts.do(multipartRequest(t, "a.pdf", pdf, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ts.objects.puts)

	rec = ts.do(multipartRequest(t, "a.txt", []byte("plain text"), ts.bearer(t, "user-1")))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	big := append(append([]byte{}, pdf...), bytes.Repeat([]byte{' '}, 1024*1024)...)
	rec = ts.do(multipartRequest(t, "big.pdf", big, ts.bearer(t, "user-1")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, ts.objects.puts)

	rec = ts.do(multipartRequest(t, "a.pdf", pdf, ts.bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, rec.Code)
	var uploaded service.UploadResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &uploaded))
	assert.Equal(t, "a.pdf", uploaded.Name)
	assert.Equal(t, "http://cdn.test/f/"+uploaded.Key, uploaded.URL)
	assert.Equal(t, 1, ts.objects.puts)

	require.Len(t, ts.dispatched, 1)
	assert.Equal(t, "user-1", ts.dispatched[0].Metadata.UserID)

	record, err := ts.files.FindByKey(context.Background(), uploaded.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, record.UploadStatus)
	assert.Equal(t, "http://cdn.test/f/"+uploaded.Key, record.URL)
}

func TestConfig(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/uploadthing/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rc service.RouteConfig
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &rc))
	assert.Equal(t, "pdfUploader", rc.RouteName)
	assert.Equal(t, int64(1024*1024), rc.MaxFileSize)
}

func TestFiles(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	mine := &model.File{Key: "k1", Name: "a.pdf", UserID: "user-1", URL: "u", UploadStatus: model.StatusProcessing}
	require.NoError(t, ts.files.Create(ctx, mine))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", ts.bearer(t, "user-1"))
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "PROCESSING", views[0]["uploadStatus"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/files/"+mine.ID, nil)
	req.Header.Set("Authorization", ts.bearer(t, "user-1"))
	assert.Equal(t, http.StatusOK, ts.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/files/"+mine.ID, nil)
	req.Header.Set("Authorization", ts.bearer(t, "user-2"))
	assert.Equal(t, http.StatusNotFound, ts.do(req).Code)
}
