// Package artifacts stores profile artifacts (graphs, series, profiles, job
// logs, uploads) and resolves asset locations to bytes.
package artifacts

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"
)

// Scheme prefixes an asset location that points into the artifact store.
const Scheme = "artifact://"

// Store persists artifacts under slash-separated keys.
type Store interface {
	// Put writes data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the data stored under key, or apperrors.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Location returns the asset location of a stored key.
func Location(key string) string {
	return Scheme + key
}

// KeyOf returns the key of an artifact:// location.
func KeyOf(location string) (string, bool) {
	if !strings.HasPrefix(location, Scheme) {
		return "", false
	}
	return strings.TrimPrefix(location, Scheme), true
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return cleaned, nil
}

// JobPrefix is the key prefix owning everything a job wrote.
func JobPrefix(jobID string) string {
	return "jobs/" + jobID
}

// ProfileKey is where a job's profile document is stored.
func ProfileKey(jobID string) string {
	return JobPrefix(jobID) + "/profile.json"
}

// LogKey is where a job's log is stored once it finishes.
func LogKey(jobID string) string {
	return JobPrefix(jobID) + "/job.log"
}

// UploadKey is where an uploaded asset is stored.
func UploadKey(jobID, filename string) string {
	name := Slug(path.Base("/" + filename))
	if name == "" {
		name = "asset"
	}
	return JobPrefix(jobID) + "/input/" + name
}

// Sink is what analyzers write artifacts through. It returns the stable
// reference of the stored artifact.
type Sink interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// JobSink stores a job's analyzer artifacts under jobs/<id>/artifacts/.
// Keys are numbered in call order so repeated names never collide.
type JobSink struct {
	store  Store
	prefix string

	mu sync.Mutex
	n  int
}

// NewJobSink creates a sink for one job.
func NewJobSink(store Store, jobID string) *JobSink {
	return &JobSink{store: store, prefix: JobPrefix(jobID) + "/artifacts"}
}

func (s *JobSink) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	s.n++
	key := fmt.Sprintf("%s/%03d-%s", s.prefix, s.n, Slug(name))
	s.mu.Unlock()

	if err := s.store.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("save artifact %s: %w", name, err)
	}
	return key, nil
}

var slugUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Slug turns a free-form name into a key segment.
func Slug(name string) string {
	s := slugUnsafe.ReplaceAllString(strings.TrimSpace(name), "_")
	s = strings.Trim(s, "_.")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
