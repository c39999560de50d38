package cache

import (
	"errors"
	"fmt"

	"github.com/aceeric/dxdocker/impl/metrics"
	"github.com/aceeric/dxdocker/impl/serialize"

	log "github.com/sirupsen/logrus"
)

// Remove evicts the entry for 'key', deleting the artifact and its metadata.
// It takes the key lock so it never races a fetch of the same key in another
// process. Removing a key that is not cached is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	if _, fetching := s.pulls[key]; fetching {
		s.mu.Unlock()
		return fmt.Errorf("unable to remove %s: a fetch is in progress", key)
	}
	s.mu.Unlock()

	lock, err := acquireKeyLock(s.lockPath(key))
	if err != nil {
		return err
	}
	defer lock.release()

	existed := serialize.IsOnFilesystem(s.root, key)
	if err := serialize.RmFromFilesystem(s.root, key); err != nil {
		return fmt.Errorf("unable to remove %s: %w", key, err)
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	if existed {
		metrics.DeltaCachedEntries(-1)
		log.Infof("removed %s from the cache", key)
	}
	return nil
}

// Prune removes every Ready entry for which 'match' returns true and returns
// the entries that matched. If 'dryRun' is true nothing is removed.
func (s *Store) Prune(match func(Entry) bool, dryRun bool) ([]Entry, error) {
	matches := []Entry{}
	for entry := range s.List() {
		if entry.State == Ready && match(entry) {
			matches = append(matches, entry)
		}
	}
	if dryRun {
		return matches, nil
	}
	var errs []error
	for _, entry := range matches {
		if err := s.Remove(entry.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return matches, errors.Join(errs...)
}

// Clear removes every Ready entry from the cache
func (s *Store) Clear() error {
	_, err := s.Prune(func(Entry) bool { return true }, false)
	return err
}
