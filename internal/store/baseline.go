package store

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/i474232898/orbital-sentry/internal/common"
	"github.com/i474232898/orbital-sentry/internal/imagery"
	"github.com/i474232898/orbital-sentry/internal/sentry"
)

var _ sentry.BaselineStore = (*FileBaselineStore)(nil)

// FileBaselineStore keeps one reference image per key under
// <dir>/<target>/<layer>.<ext>. References are only ever created, never
// overwritten; replacing one is a deliberate external action (delete the file,
// or call Remove).
type FileBaselineStore struct {
	dir string

	locksMu sync.Mutex
	locks   map[sentry.Key]*sync.Mutex

	// cache holds decoded references by path; only used while watching.
	cacheMu  sync.RWMutex
	cache    map[string]sentry.Snapshot
	watching bool
	// gen is bumped by every eviction; a load only caches its result if no
	// eviction happened while it was reading.
	gen uint64
}

// NewFileBaselineStore creates the baseline directory if needed.
func NewFileBaselineStore(dir string) (*FileBaselineStore, error) {
	if dir == "" {
		return nil, errors.New("baseline directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileBaselineStore{
		dir:   abs,
		locks: make(map[sentry.Key]*sync.Mutex),
		cache: make(map[string]sentry.Snapshot),
	}, nil
}

// Dir returns the absolute baseline directory.
func (s *FileBaselineStore) Dir() string {
	return s.dir
}

// Path returns where the reference for key with the given content type lives.
func (s *FileBaselineStore) Path(key sentry.Key, contentType string) string {
	return filepath.Join(s.dir, key.Target(), key.Layer()+extension(contentType))
}

// EnsureReference implements sentry.BaselineStore. Calls for the same key are
// serialized; distinct keys proceed in parallel.
func (s *FileBaselineStore) EnsureReference(ctx context.Context, key sentry.Key, current sentry.Snapshot) (sentry.Snapshot, bool, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := s.Path(key, current.ContentType)
	ref, ok, gen := s.cached(path)
	if ok {
		return ref, false, nil
	}

	ref, err := s.load(key, path, current.ContentType)
	if err == nil {
		s.remember(path, ref, gen)
		return ref, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return sentry.Snapshot{}, false, err
	}

	if err := ctx.Err(); err != nil {
		return sentry.Snapshot{}, false, err
	}

	raw := bytes.Clone(current.Raw)
	if err := common.WriteFileAtomic(path, raw, 0644); err != nil {
		return sentry.Snapshot{}, false, &sentry.StorageError{Key: key, Op: "write", Path: path, Err: err}
	}

	ref = current
	ref.Key = key
	ref.Raw = raw
	s.remember(path, ref, gen)
	return ref, true, nil
}

func (s *FileBaselineStore) load(key sentry.Key, path, contentType string) (sentry.Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sentry.Snapshot{}, err
		}
		return sentry.Snapshot{}, &sentry.StorageError{Key: key, Op: "stat", Path: path, Err: err}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return sentry.Snapshot{}, &sentry.StorageError{Key: key, Op: "read", Path: path, Err: err}
	}
	img, _, err := imagery.Decode(raw)
	if err != nil {
		return sentry.Snapshot{}, &sentry.StorageError{Key: key, Op: "decode", Path: path, Err: err}
	}

	return sentry.Snapshot{
		Key:         key,
		Date:        sentry.Day(info.ModTime()),
		ContentType: contentType,
		Raw:         raw,
		Image:       img,
	}, nil
}

// Remove deletes every stored reference for key so the next run seeds a new one.
func (s *FileBaselineStore) Remove(key sentry.Key) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, key.Target(), key.Layer()+".*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &sentry.StorageError{Key: key, Op: "remove", Path: m, Err: err}
		}
		s.evict(m)
	}
	return nil
}

func (s *FileBaselineStore) keyLock(key sentry.Key) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// cached returns the cached reference for path, if any, and the eviction
// generation to hand back to remember.
func (s *FileBaselineStore) cached(path string) (sentry.Snapshot, bool, uint64) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if !s.watching {
		return sentry.Snapshot{}, false, s.gen
	}
	ref, ok := s.cache[path]
	return ref, ok, s.gen
}

// remember caches ref unless an eviction happened after gen was observed.
func (s *FileBaselineStore) remember(path string, ref sentry.Snapshot, gen uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.watching && s.gen == gen {
		s.cache[path] = ref
	}
}

// evict drops path, and anything below it when path is a directory.
func (s *FileBaselineStore) evict(path string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.gen++
	prefix := path + string(filepath.Separator)
	for p := range s.cache {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.cache, p)
		}
	}
}

func (s *FileBaselineStore) setWatching(on bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.watching = on
	if !on {
		s.cache = make(map[string]sentry.Snapshot)
	}
}

func extension(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/tiff":
		return ".tif"
	case "image/gif":
		return ".gif"
	default:
		return ".img"
	}
}
