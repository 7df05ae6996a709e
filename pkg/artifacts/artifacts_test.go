package artifacts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "jobs/1/profile.json", []byte(`{}`), "application/json"))
	require.NoError(t, s.Put(ctx, "jobs/1/artifacts/001-a.png", []byte("png"), "image/png"))

	data, err := s.Get(ctx, "jobs/1/profile.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	require.NoError(t, s.DeletePrefix(ctx, JobPrefix("1")))
	_, err = s.Get(ctx, "jobs/1/profile.json")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	// Deleting what is already gone is fine.
	assert.NoError(t, s.DeletePrefix(ctx, JobPrefix("1")))
}

func TestValidateKey(t *testing.T) {
	for _, bad := range []string{"", "../etc/passwd", "jobs/../../x", "jobs/1/"} {
		_, err := ValidateKey(bad)
		assert.Error(t, err, bad)
	}
	key, err := ValidateKey("jobs/1/profile.json")
	require.NoError(t, err)
	assert.Equal(t, "jobs/1/profile.json", key)
}

func TestJobSink_NumbersKeys(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	sink := NewJobSink(s, "abc")

	first, err := sink.Save(ctx, "sales/age distribution.png", "image/png", []byte("1"))
	require.NoError(t, err)
	second, err := sink.Save(ctx, "sales/age distribution.png", "image/png", []byte("2"))
	require.NoError(t, err)

	assert.Equal(t, "jobs/abc/artifacts/001-sales_age_distribution.png", first)
	assert.Equal(t, "jobs/abc/artifacts/002-sales_age_distribution.png", second)

	data, err := s.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestUploadKey(t *testing.T) {
	assert.Equal(t, "jobs/j1/input/sales_2024.csv", UploadKey("j1", "../sales 2024.csv"))
	assert.Equal(t, "jobs/j1/input/asset", UploadKey("j1", ""))
	assert.Equal(t, "artifact://jobs/j1/input/a.csv", Location(UploadKey("j1", "a.csv")))
}

func TestFetcher_LocalFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(p, []byte("a,b\n1,2\n"), 0o644))

	f := NewFetcher(nil, 1024, zap.NewNop())

	data, err := f.Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	data, err = f.Fetch(context.Background(), "file://"+p)
	require.NoError(t, err)
	assert.Len(t, data, 8)

	_, err = f.Fetch(context.Background(), filepath.Join(dir, "missing.csv"))
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnrecognizedAsset), "got %v", err)

	small := NewFetcher(nil, 4, zap.NewNop())
	_, err = small.Fetch(context.Background(), p)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnrecognizedAsset), "got %v", err)
}

func TestFetcher_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.csv":
			w.Write([]byte("x,y\n1,2\n"))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(nil, 1024, zap.NewNop())
	ctx := context.Background()

	data, err := f.Fetch(ctx, srv.URL+"/ok.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "x,y"))

	_, err = f.Fetch(ctx, srv.URL+"/busy")
	assert.True(t, apperrors.IsKind(err, apperrors.KindTransientIO), "got %v", err)

	_, err = f.Fetch(ctx, srv.URL+"/throttled")
	assert.True(t, apperrors.IsKind(err, apperrors.KindTransientIO), "got %v", err)

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnrecognizedAsset), "got %v", err)
}

func TestFetcher_ArtifactLocation(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := UploadKey("j1", "data.csv")
	require.NoError(t, s.Put(ctx, key, []byte("a\n1\n"), "text/csv"))

	f := NewFetcher(s, 0, zap.NewNop())
	data, err := f.Fetch(ctx, Location(key))
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(data))

	_, err = f.Fetch(ctx, Location("jobs/none/input/x.csv"))
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnrecognizedAsset), "got %v", err)

	_, err = f.Fetch(ctx, "ftp://host/file")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnrecognizedAsset), "got %v", err)
}
