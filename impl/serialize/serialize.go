package serialize

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
)

const (
	// ArtifactSuffix is the suffix of a Ready image artifact in the cache
	ArtifactSuffix = ".tar"
	// MetaSuffix is the suffix of the json metadata sidecar of an artifact
	MetaSuffix = ".json"
	// PartialSuffix marks a file as in progress. Such files are never Ready.
	PartialSuffix = ".partial"
)

// Meta is the metadata sidecar written next to every cached artifact. It survives
// across invocations and is how a listing recovers the reference and the resolved
// manifest digest of a cached image.
type Meta struct {
	Reference string    `json:"reference"`
	Digest    string    `json:"digest"`
	MediaType string    `json:"mediaType"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// CacheEntryHandler is called by WalkTheCache for each artifact in the cache. 'meta'
// is empty if the artifact has no readable sidecar.
type CacheEntryHandler func(key string, meta Meta, info os.FileInfo) error

// ArtifactPath returns the path of the artifact for 'key' under 'root'
func ArtifactPath(root, key string) string {
	return filepath.Join(root, key+ArtifactSuffix)
}

// MetaPath returns the path of the metadata sidecar for 'key' under 'root'
func MetaPath(root, key string) string {
	return filepath.Join(root, key+MetaSuffix)
}

// IsOnFilesystem returns true if a Ready artifact exists for 'key'
func IsOnFilesystem(root, key string) bool {
	fi, err := os.Stat(ArtifactPath(root, key))
	return err == nil && fi.Mode().IsRegular()
}

// ToFilesystem writes the passed metadata for 'key' so that readers only ever
// see the previous version or the complete new version.
func ToFilesystem(root, key string, meta Meta) error {
	mb, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return WriteAtomically(MetaPath(root, key), mb)
}

// FromFilesystem reads the metadata sidecar for 'key'
func FromFilesystem(root, key string) (Meta, error) {
	meta := Meta{}
	b, err := os.ReadFile(MetaPath(root, key))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(b, &meta)
	return meta, err
}

// RmFromFilesystem removes the artifact and the sidecar for 'key'. Files that do
// not exist are not an error.
func RmFromFilesystem(root, key string) error {
	var errs []error
	for _, path := range []string{ArtifactPath(root, key), MetaPath(root, key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WalkTheCache calls 'handler' for every Ready artifact directly under 'root'. Temp
// files and subdirectories are skipped. The walk stops on the first handler error.
func WalkTheCache(root string, handler CacheEntryHandler) error {
	start := time.Now()
	dirents, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	itemcnt := 0
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() || !strings.HasSuffix(name, ArtifactSuffix) {
			continue
		}
		info, err := dirent.Info()
		if err != nil {
			// removed by a concurrent eviction
			continue
		}
		key := strings.TrimSuffix(name, ArtifactSuffix)
		meta, err := FromFilesystem(root, key)
		if err != nil {
			log.Debugf("no metadata for cached artifact %s: %s", name, err)
			meta = Meta{}
		}
		if err := handler(key, meta, info); err != nil {
			return err
		}
		itemcnt++
	}
	log.Debugf("walked %d cached artifact(s) in %s", itemcnt, time.Since(start))
	return nil
}

// WriteAtomically writes 'data' to a temp file in the directory of 'path' and then
// renames it to 'path'.
func WriteAtomically(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.%d.%s%s", path, os.Getpid(), uuid.New().String(), PartialSuffix)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
