package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"pdf-ingest-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploads struct {
	names []string
	users []string
}

func (r *recordingUploads) Upload(_ context.Context, userID, fileName string, _ int64, body io.Reader) (*service.UploadResult, error) {
	if _, err := io.ReadAll(body); err != nil {
		return nil, err
	}
	r.names = append(r.names, fileName)
	r.users = append(r.users, userID)
	return &service.UploadResult{Key: "k-" + fileName, Name: fileName}, nil
}

func (r *recordingUploads) RouteConfig() service.RouteConfig {
	return service.RouteConfig{}
}

func TestSeedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.PDF"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.pdf"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	uploads := &recordingUploads{}
	n := seedFiles(context.Background(), dir, "admin", uploads)

	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"a.pdf", "B.PDF"}, uploads.names)
	assert.Equal(t, []string{"admin", "admin"}, uploads.users)
}

func TestSeedFiles_MissingDir(t *testing.T) {
	assert.Zero(t, seedFiles(context.Background(), filepath.Join(t.TempDir(), "nope"), "admin", &recordingUploads{}))
}
