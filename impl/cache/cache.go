package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aceeric/dxdocker/impl/globals"
	"github.com/aceeric/dxdocker/impl/metrics"
	"github.com/aceeric/dxdocker/impl/pullrequest"
	"github.com/aceeric/dxdocker/impl/serialize"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of a cache entry
type State int

const (
	Pending State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Entry is one image in the cache.
type Entry struct {
	Key          string
	Reference    string
	Digest       string
	ArtifactPath string
	SizeBytes    int64
	FetchedAt    time.Time
	State        State
}

// FetchResult is returned by a FetchFunc on success.
type FetchResult struct {
	// Digest is the resolved manifest digest
	Digest    string
	MediaType string
}

// FetchFunc populates the file at 'path' with the artifact for 'pr'. It is
// called at most once per key at a time, and the file at 'path' is only
// installed into the cache if the function returns a nil error.
type FetchFunc func(ctx context.Context, pr pullrequest.PullRequest, path string) (FetchResult, error)

// Store is the filesystem cache. Artifacts live directly under the root, named
// by cache key. The in-memory index and the in-flight map only live for the
// life of the process. The index is rebuilt from disk by Open.
type Store struct {
	root string
	mu   sync.Mutex
	// entries is the index of known entries, Ready or Pending
	entries map[string]Entry
	// pulls has one list of waiters per key being fetched by this process
	pulls map[string][]chan error
}

// Open opens the cache at 'root', creating it if it does not exist. Temp files
// left behind by processes that no longer exist are removed.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache root is not configured")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{root, filepath.Join(root, globals.BlobsDir), filepath.Join(root, globals.ContainersDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("unable to create cache directory %s: %w", dir, err)
		}
	}
	s := &Store{
		root:    root,
		entries: make(map[string]Entry),
		pulls:   make(map[string][]chan error),
	}
	sweepStale(root, "")
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load rebuilds the in-memory index from the file system
func (s *Store) load() error {
	start := time.Now()
	log.Debugf("load cache index from %s", s.root)
	err := serialize.WalkTheCache(s.root, func(key string, meta serialize.Meta, info os.FileInfo) error {
		s.entries[key] = entryFrom(s.root, key, meta, info)
		return nil
	})
	if err != nil {
		return err
	}
	metrics.SetCachedEntries(float64(len(s.entries)))
	log.Debugf("loaded %d cache entries in %s", len(s.entries), time.Since(start))
	return nil
}

// Root returns the absolute cache root
func (s *Store) Root() string {
	return s.root
}

// BlobsDir returns the directory that holds the layer cache
func (s *Store) BlobsDir() string {
	return filepath.Join(s.root, globals.BlobsDir)
}

// ContainersDir returns the directory under which execution roots are created
func (s *Store) ContainersDir() string {
	return filepath.Join(s.root, globals.ContainersDir)
}

// LookupOrFetch returns the Ready entry for 'pr', fetching it with 'fetch' if it
// is not cached. Concurrent callers for the same key in this process wait for the
// one in-flight fetch and get its result. Callers in other processes are
// serialized by a per-key file lock, and find the artifact on disk once the lock
// holder is done. A failed fetch leaves no entry behind.
func (s *Store) LookupOrFetch(ctx context.Context, pr pullrequest.PullRequest, fetch FetchFunc) (Entry, error) {
	key := pr.Key()
	entry, ch := s.getEntryOrEnqueue(key, pr)
	if entry.State == Ready {
		log.Debugf("cache hit for %s", pr)
		metrics.IncCacheHits()
		return entry, nil
	} else if ch != nil {
		log.Debugf("waiting for in-flight fetch of %s", pr)
		select {
		case err := <-ch:
			if err != nil {
				return Entry{}, err
			}
			if entry, ok := s.Lookup(key); ok {
				return entry, nil
			}
			return Entry{}, fmt.Errorf("entry for %s was removed while waiting for it", pr)
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
	entry, err := s.fetchWithLock(ctx, pr, fetch)
	s.mu.Lock()
	if err != nil {
		delete(s.entries, key)
	} else {
		s.entries[key] = entry
	}
	s.mu.Unlock()
	s.signalWaiters(key, err)
	return entry, err
}

// getEntryOrEnqueue returns a Ready entry if there is one. Otherwise, if another
// goroutine is fetching the key, returns a channel the caller must wait on. If
// both return values are empty the caller is the fetcher and must call signalWaiters
// when done.
func (s *Store) getEntryOrEnqueue(key string, pr pullrequest.PullRequest) (Entry, chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.entries[key]; exists && entry.State == Ready {
		if serialize.IsOnFilesystem(s.root, key) {
			return entry, nil
		}
		// evicted by another process
		delete(s.entries, key)
	}
	if chans, exists := s.pulls[key]; exists {
		ch := make(chan error, 1)
		s.pulls[key] = append(chans, ch)
		return Entry{}, ch
	}
	s.pulls[key] = []chan error{}
	s.entries[key] = Entry{Key: key, Reference: pr.Familiar(), State: Pending}
	return Entry{}, nil
}

// signalWaiters hands the result of a fetch to every goroutine waiting on 'key'
func (s *Store) signalWaiters(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.pulls[key] {
		ch <- err
	}
	delete(s.pulls, key)
}

// fetchWithLock takes the cross-process lock for the key, and unless another
// process installed the artifact in the meantime, fetches it into a temp file
// and renames it into place.
func (s *Store) fetchWithLock(ctx context.Context, pr pullrequest.PullRequest, fetch FetchFunc) (Entry, error) {
	key := pr.Key()
	lock, err := acquireKeyLock(s.lockPath(key))
	if err != nil {
		return Entry{}, err
	}
	defer lock.release()

	if entry, ok := s.fromDisk(key); ok {
		log.Debugf("%s was fetched by another process", pr)
		metrics.IncCacheHits()
		return entry, nil
	}
	sweepStale(s.root, key)

	tmp := filepath.Join(s.root, fmt.Sprintf("%s.%d.%s%s", key, os.Getpid(), uuid.New().String(), serialize.PartialSuffix))
	defer os.Remove(tmp)

	start := time.Now()
	log.Infof("fetching %s", pr)
	result, err := fetch(ctx, pr, tmp)
	if err != nil {
		metrics.IncFetchFailures()
		return Entry{}, err
	}
	fi, err := os.Stat(tmp)
	if err != nil {
		metrics.IncFetchFailures()
		return Entry{}, fmt.Errorf("fetch of %s produced no artifact: %w", pr, err)
	}
	if err := syncFile(tmp); err != nil {
		return Entry{}, err
	}
	meta := serialize.Meta{
		Reference: pr.Familiar(),
		Digest:    result.Digest,
		MediaType: result.MediaType,
		Size:      fi.Size(),
		FetchedAt: time.Now().UTC(),
	}
	if err := serialize.ToFilesystem(s.root, key, meta); err != nil {
		return Entry{}, fmt.Errorf("unable to write metadata for %s: %w", pr, err)
	}
	if err := os.Rename(tmp, serialize.ArtifactPath(s.root, key)); err != nil {
		os.Remove(serialize.MetaPath(s.root, key))
		return Entry{}, fmt.Errorf("unable to install artifact for %s: %w", pr, err)
	}
	metrics.IncRegistryFetches()
	metrics.DeltaCachedEntries(1)
	log.Infof("fetched %s (%d bytes) in %s", pr, fi.Size(), time.Since(start))
	return entryFrom(s.root, key, meta, fi), nil
}

// Lookup returns the Ready entry for 'key' if the artifact is on disk.
func (s *Store) Lookup(key string) (Entry, bool) {
	s.mu.Lock()
	entry, exists := s.entries[key]
	s.mu.Unlock()
	if exists && entry.State == Ready && serialize.IsOnFilesystem(s.root, key) {
		return entry, true
	}
	if entry, ok := s.fromDisk(key); ok {
		s.mu.Lock()
		if _, fetching := s.pulls[key]; !fetching {
			s.entries[key] = entry
		}
		s.mu.Unlock()
		return entry, true
	}
	return Entry{}, false
}

// List returns all Ready entries on disk and the entries this process is
// fetching, in no particular order.
func (s *Store) List() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		seen := make(map[string]bool)
		stop := errors.New("stop")
		err := serialize.WalkTheCache(s.root, func(key string, meta serialize.Meta, info os.FileInfo) error {
			seen[key] = true
			if !yield(entryFrom(s.root, key, meta, info)) {
				return stop
			}
			return nil
		})
		if err != nil {
			if err != stop {
				log.Warnf("error listing the cache: %s", err)
			}
			return
		}
		s.mu.Lock()
		pending := []Entry{}
		for key, entry := range s.entries {
			if entry.State == Pending && !seen[key] {
				pending = append(pending, entry)
			}
		}
		s.mu.Unlock()
		for _, entry := range pending {
			if !yield(entry) {
				return
			}
		}
	}
}

// fromDisk builds a Ready entry from the file system if the artifact exists
func (s *Store) fromDisk(key string) (Entry, bool) {
	fi, err := os.Stat(serialize.ArtifactPath(s.root, key))
	if err != nil || !fi.Mode().IsRegular() {
		return Entry{}, false
	}
	meta, err := serialize.FromFilesystem(s.root, key)
	if err != nil {
		meta = serialize.Meta{}
	}
	return entryFrom(s.root, key, meta, fi), true
}

func (s *Store) lockPath(key string) string {
	return filepath.Join(s.root, key+lockSuffix)
}

// entryFrom makes a Ready entry. Reference and fetch time come from the sidecar
// when there is one.
func entryFrom(root, key string, meta serialize.Meta, fi os.FileInfo) Entry {
	entry := Entry{
		Key:          key,
		Reference:    meta.Reference,
		Digest:       meta.Digest,
		ArtifactPath: serialize.ArtifactPath(root, key),
		SizeBytes:    fi.Size(),
		FetchedAt:    meta.FetchedAt,
		State:        Ready,
	}
	if entry.Reference == "" {
		entry.Reference, _ = pullrequest.KeyToFamiliar(key)
	}
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = fi.ModTime()
	}
	return entry
}

// syncFile flushes the file at 'path' to stable storage
func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
