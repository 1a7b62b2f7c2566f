package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pdf-ingest-go/internal/model"
	"pdf-ingest-go/internal/repository"
	"pdf-ingest-go/pkg/tasks"
	"pdf-ingest-go/pkg/token"
	"pdf-ingest-go/pkg/vectorstore"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ---- fakes ----

type staticSessions struct {
	user *token.SessionUser
	err  error
}

func (s staticSessions) GetUser(context.Context) (*token.SessionUser, error) {
	return s.user, s.err
}

// countingFiles 统计对文件记录的写操作次数。
type countingFiles struct {
	repository.FileRepository
	mu       sync.Mutex
	creates  int
	updates  []model.UploadStatus
	updateFn func() error
}

func (c *countingFiles) Create(ctx context.Context, f *model.File) error {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.FileRepository.Create(ctx, f)
}

func (c *countingFiles) UpdateStatus(ctx context.Context, id string, status model.UploadStatus) error {
	c.mu.Lock()
	c.updates = append(c.updates, status)
	c.mu.Unlock()
	if c.updateFn != nil {
		if err := c.updateFn(); err != nil {
			return err
		}
	}
	return c.FileRepository.UpdateStatus(ctx, id, status)
}

type fakeFetcher struct {
	calls []string
	body  []byte
	err   error
	onGet func()
	panic bool
}

func (f *fakeFetcher) Get(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if f.onGet != nil {
		f.onGet()
	}
	if f.panic {
		panic("nil response body")
	}
	return f.body, f.err
}

type fakeParser struct {
	calls int
	pages []string
	err   error
	panic bool
}

func (p *fakeParser) ExtractPages(_ context.Context, r io.Reader, _ string) ([]string, error) {
	p.calls++
	if p.panic {
		panic("corrupt xref table")
	}
	_, _ = io.Copy(io.Discard, r)
	return p.pages, p.err
}

type fakeEmbedder struct {
	calls  int
	failOn string
	panic  bool
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.panic {
		panic("index out of range")
	}
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		if e.failOn != "" && text == e.failOn {
			return nil, fmt.Errorf("embedding service rejected input %d", i)
		}
		out = append(out, []float32{float32(i), float32(len(text))})
	}
	return out, nil
}

type memoryStore struct {
	mu         sync.Mutex
	calls      int
	namespaces map[string][]vectorstore.Record
	err        error
	panic      bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{namespaces: map[string][]vectorstore.Record{}}
}

func (s *memoryStore) Upsert(_ context.Context, namespace string, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("nil point payload")
	}
	if s.err != nil {
		return s.err
	}
	s.namespaces[namespace] = append(s.namespaces[namespace], records...)
	return nil
}

// ---- harness ----

type harness struct {
	db       *gorm.DB
	files    *countingFiles
	fetcher  *fakeFetcher
	parser   *fakeParser
	embedder *fakeEmbedder
	store    *memoryStore
	sessions staticSessions
}

func newHarness(t *testing.T, pages ...string) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.File{}))

	return &harness{
		db:       db,
		files:    &countingFiles{FileRepository: repository.NewFileRepository(db)},
		fetcher:  &fakeFetcher{body: []byte("%PDF-1.7\n...")},
		parser:   &fakeParser{pages: pages},
		embedder: &fakeEmbedder{},
		store:    newMemoryStore(),
		sessions: staticSessions{user: &token.SessionUser{ID: "user-1", Username: "alice"}},
	}
}

func (h *harness) pipeline() *Pipeline {
	return New(Deps{
		Sessions:  h.sessions,
		Files:     h.files,
		Fetcher:   h.fetcher,
		Parser:    h.parser,
		Embedder:  h.embedder,
		Store:     h.store,
		PublicURL: func(key string) string { return "https://cdn.test/f/" + key },
	})
}

func (h *harness) outboundCalls() int {
	return len(h.fetcher.calls) + h.parser.calls + h.embedder.calls + h.store.calls
}

func (h *harness) countFiles(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&model.File{}).Count(&n).Error)
	return n
}

var upload = UploadedFile{Key: "key-1", Name: "report.pdf", URL: "https://provider.test/key-1"}

// ---- properties ----

func TestHandle_NoSessionHasNoSideEffects(t *testing.T) {
	for name, sessions := range map[string]staticSessions{
		"nil user":       {},
		"empty id":       {user: &token.SessionUser{}},
		"resolver error": {err: errors.New("cookie store down")},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, "page one")
			h.sessions = sessions

			res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
			assert.ErrorIs(t, err, ErrUnauthorized)
			assert.Nil(t, res)
			assert.Zero(t, h.files.creates)
			assert.Empty(t, h.files.updates)
			assert.Zero(t, h.outboundCalls())
			assert.Zero(t, h.countFiles(t))
		})
	}
}

func TestHandle_ClaimedUserMismatchIsForbidden(t *testing.T) {
	h := newHarness(t, "page one")

	_, err := h.pipeline().Handle(context.Background(), Metadata{UserID: "someone-else"}, upload)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, h.files.creates)
	assert.Zero(t, h.outboundCalls())
}

func TestOnUploadComplete_ExistingKeyIsNoop(t *testing.T) {
	h := newHarness(t, "page one")
	existing := &model.File{Key: upload.Key, Name: "old.pdf", UserID: "user-1", URL: "x", UploadStatus: model.StatusSuccess}
	require.NoError(t, repository.NewFileRepository(h.db).Create(context.Background(), existing))

	res, err := h.pipeline().Handle(context.Background(), Metadata{UserID: "user-1"}, upload)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, existing.ID, res.FileID)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Zero(t, h.files.creates)
	assert.Empty(t, h.files.updates)
	assert.Zero(t, h.outboundCalls())
}

func TestOnUploadComplete_Success(t *testing.T) {
	h := newHarness(t, "page one", "page two", "page three")

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 1, h.files.creates)
	assert.Equal(t, []model.UploadStatus{model.StatusSuccess}, h.files.updates)
	assert.Equal(t, []string{"https://cdn.test/f/key-1"}, h.fetcher.calls)

	record, err := h.files.FindByKey(context.Background(), upload.Key)
	require.NoError(t, err)
	assert.Equal(t, res.FileID, record.ID)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, "report.pdf", record.Name)
	assert.Equal(t, "https://cdn.test/f/key-1", record.URL)
	assert.Equal(t, model.StatusSuccess, record.UploadStatus)

	require.Len(t, h.store.namespaces, 1)
	vectors := h.store.namespaces[record.ID]
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.NotEmpty(t, v.ID)
		assert.Equal(t, i+1, v.Metadata["pageNumber"])
		assert.Equal(t, 3, v.Metadata["totalPages"])
		assert.Equal(t, "report.pdf", v.Metadata["source"])
	}
	assert.Equal(t, "page two", vectors[1].Text)
}

func TestOnUploadComplete_ParseFailure(t *testing.T) {
	h := newHarness(t)
	h.parser.err = errors.New("malformed xref")

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageParse, res.FailedStage)
	assert.Equal(t, 1, h.files.creates)
	assert.Equal(t, []model.UploadStatus{model.StatusFailed}, h.files.updates)
	assert.Zero(t, h.embedder.calls)
	assert.Zero(t, h.store.calls)

	record, err := h.files.FindByKey(context.Background(), upload.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.UploadStatus)
}

func TestOnUploadComplete_NonPDFContentFailsParse(t *testing.T) {
	h := newHarness(t, "never used")
	h.fetcher.body = []byte("<html>not a pdf</html>")

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageParse, res.FailedStage)
	assert.Zero(t, h.parser.calls)
	assert.Zero(t, h.embedder.calls)
}

func TestOnUploadComplete_FetchFailure(t *testing.T) {
	h := newHarness(t, "never used")
	h.fetcher.err = errors.New("404 Not Found")

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageFetch, res.FailedStage)
	assert.Zero(t, h.parser.calls)
}

func TestOnUploadComplete_EmbedFailureOnLastPageIsNotPartialSuccess(t *testing.T) {
	h := newHarness(t, "page one", "page two", "page three")
	h.embedder.failOn = "page three"

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageEmbed, res.FailedStage)
	assert.Equal(t, []model.UploadStatus{model.StatusFailed}, h.files.updates)
	assert.Zero(t, h.store.calls)
}

func TestOnUploadComplete_UpsertFailure(t *testing.T) {
	h := newHarness(t, "page one", "page two")
	h.store.err = errors.New("index unavailable")

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageUpsert, res.FailedStage)
	assert.Equal(t, 1, h.embedder.calls)
}

func TestOnUploadComplete_PanicIsAttributedToItsStage(t *testing.T) {
	cases := map[string]struct {
		pages []string
		setup func(h *harness)
		want  Stage
	}{
		"fetcher":  {setup: func(h *harness) { h.fetcher.panic = true }, want: StageFetch},
		"parser":   {setup: func(h *harness) { h.parser.panic = true }, want: StageParse},
		"embedder": {pages: []string{"page one"}, setup: func(h *harness) { h.embedder.panic = true }, want: StageEmbed},
		"store":    {pages: []string{"page one"}, setup: func(h *harness) { h.store.panic = true }, want: StageUpsert},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, tc.pages...)
			tc.setup(h)

			res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
			require.NoError(t, err)
			assert.Equal(t, model.StatusFailed, res.Status)
			assert.Equal(t, tc.want, res.FailedStage)
			assert.Equal(t, []model.UploadStatus{model.StatusFailed}, h.files.updates)
		})
	}
}

func TestOnUploadComplete_SweptDuringIngestKeepsSweeperStatus(t *testing.T) {
	h := newHarness(t, "page one", "page two")
	swept := int64(0)
	// 下载过程中清理任务把记录判定为超时
	h.fetcher.onGet = func() {
		n, err := h.files.MarkStaleFailed(context.Background(), time.Now().Add(time.Hour))
		require.NoError(t, err)
		swept = n
	}

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Empty(t, res.FailedStage)

	record, err := h.files.FindByKey(context.Background(), upload.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.UploadStatus)
}

func TestOnUploadComplete_TwoRunsSameKey(t *testing.T) {
	h := newHarness(t, "page one", "page two")
	p := h.pipeline()

	first, err := p.Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)
	second, err := p.Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)

	assert.False(t, first.Skipped)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.FileID, second.FileID)
	assert.Equal(t, int64(1), h.countFiles(t))
	require.Len(t, h.store.namespaces, 1)
	assert.Len(t, h.store.namespaces[first.FileID], 2)
	assert.Equal(t, 1, h.embedder.calls)
}

func TestOnUploadComplete_TerminalUpdateFailurePropagates(t *testing.T) {
	h := newHarness(t, "page one")
	h.files.updateFn = func() error { return errors.New("connection reset") }

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "connection reset")
}

func TestOnUploadComplete_CancelledContextStillWritesTerminalStatus(t *testing.T) {
	h := newHarness(t, "page one")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 下载过程中请求被取消
	h.fetcher.onGet = cancel
	h.fetcher.err = context.Canceled

	res, err := h.pipeline().Handle(ctx, Metadata{}, upload)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)

	record, err := h.files.FindByKey(context.Background(), upload.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.UploadStatus)
}

func TestOnUploadComplete_EmptyDocumentSucceedsWithoutVectors(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline().Handle(context.Background(), Metadata{}, upload)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Zero(t, res.Pages)
	assert.Zero(t, h.embedder.calls)
	assert.Zero(t, h.store.calls)
}

func TestProcess_UsesTaskIdentity(t *testing.T) {
	h := newHarness(t, "page one")
	h.sessions = staticSessions{}
	p := h.pipeline()

	err := p.Process(context.Background(), tasks.UploadCompleteTask{
		Metadata: tasks.TaskMetadata{UserID: "user-9"},
		File:     tasks.TaskFile{Key: "key-9", Name: "a.pdf"},
	})
	require.NoError(t, err)

	record, err := h.files.FindByKey(context.Background(), "key-9")
	require.NoError(t, err)
	assert.Equal(t, "user-9", record.UserID)
	assert.Equal(t, model.StatusSuccess, record.UploadStatus)

	err = p.Process(context.Background(), tasks.UploadCompleteTask{File: tasks.TaskFile{Key: "key-10"}})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := error(stageErr(StageEmbed, cause))
	assert.ErrorIs(t, err, cause)
	assert.True(t, strings.HasPrefix(err.Error(), "embed stage failed"))
}
