package cache

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aceeric/dxdocker/impl/pullrequest"
	"github.com/aceeric/dxdocker/impl/serialize"
)

// populate fetches the passed references into a new store
func populate(t *testing.T, refs ...string) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeFetcher{}
	for _, ref := range refs {
		if _, err := s.LookupOrFetch(context.Background(), pullrequest.MustParse(ref), f.fetch); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestRemove(t *testing.T) {
	s := populate(t, "ubuntu:14.04", "busybox")
	key := pullrequest.MustParse("ubuntu:14.04").Key()
	if err := s.Remove(key); err != nil {
		t.Fatal(err)
	}
	if serialize.IsOnFilesystem(s.Root(), key) {
		t.Errorf("expected the artifact to be removed")
	}
	if _, err := os.Stat(serialize.MetaPath(s.Root(), key)); err == nil {
		t.Errorf("expected the sidecar to be removed")
	}
	if _, ok := s.Lookup(key); ok {
		t.Errorf("expected no entry")
	}
	if _, ok := s.Lookup("busybox"); !ok {
		t.Errorf("expected the other entry to remain")
	}
	// absent keys are not an error
	if err := s.Remove(key); err != nil {
		t.Error(err)
	}
}

func TestRemoveWhileFetching(t *testing.T) {
	s, _ := Open(t.TempDir())
	release := make(chan struct{})
	inFetch := make(chan struct{})
	fetch := func(ctx context.Context, pr pullrequest.PullRequest, path string) (FetchResult, error) {
		close(inFetch)
		<-release
		return FetchResult{}, os.WriteFile(path, []byte("x"), 0644)
	}
	done := make(chan error)
	go func() {
		_, err := s.LookupOrFetch(context.Background(), pullrequest.MustParse("busybox"), fetch)
		done <- err
	}()
	<-inFetch
	if err := s.Remove("busybox"); err == nil {
		t.Errorf("expected remove to refuse an entry that is being fetched")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestPrune(t *testing.T) {
	s := populate(t, "ubuntu:14.04", "ubuntu:15.04", "busybox")
	isUbuntu := func(e Entry) bool { return strings.HasPrefix(e.Reference, "ubuntu") }
	matched, err := s.Prune(isUbuntu, true)
	if err != nil || len(matched) != 2 {
		t.Fatalf("expected two matches, got %d %v", len(matched), err)
	}
	for _, e := range matched {
		if !serialize.IsOnFilesystem(s.Root(), e.Key) {
			t.Errorf("dry run removed %s", e.Key)
		}
	}
	if _, err := s.Prune(isUbuntu, false); err != nil {
		t.Fatal(err)
	}
	remaining := []string{}
	for e := range s.List() {
		remaining = append(remaining, e.Reference)
	}
	if len(remaining) != 1 || remaining[0] != "busybox" {
		t.Errorf("unexpected remaining entries %v", remaining)
	}
	// nothing fetched before now
	matched, _ = s.Prune(func(e Entry) bool { return e.FetchedAt.Before(time.Now().Add(-time.Hour)) }, false)
	if len(matched) != 0 {
		t.Errorf("expected no old entries, got %d", len(matched))
	}
}

func TestClear(t *testing.T) {
	s := populate(t, "ubuntu:14.04", "quay.io/ucsc_cgl/samtools", "busybox")
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	for e := range s.List() {
		t.Errorf("expected an empty cache, found %s", e.Reference)
	}
	// the layout survives for the next fetch
	if _, err := os.Stat(s.BlobsDir()); err != nil {
		t.Error(err)
	}
}

func TestEntryReader(t *testing.T) {
	fetched := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	entries := []Entry{
		{Reference: "ubuntu:14.04", Key: "ubuntu%3A14.04", State: Ready, SizeBytes: 10, FetchedAt: fetched, Digest: testDigest},
		{Reference: "busybox@" + testDigest, Key: "busybox%40sha256", State: Ready, SizeBytes: 5, FetchedAt: fetched},
	}
	b, err := io.ReadAll(NewEntryReader(entries, true))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	expect := []string{
		"REFERENCE KEY STATE SIZE FETCHED DIGEST",
		"busybox@sha256:1111111111 busybox%40sha256 ready 5 2024-03-01T12:00:00 none",
		"ubuntu:14.04 ubuntu%3A14.04 ready 10 2024-03-01T12:00:00 " + testDigest,
	}
	if len(lines) != len(expect) {
		t.Fatalf("expected %d lines, got %q", len(expect), lines)
	}
	for i := range expect {
		if lines[i] != expect[i] {
			t.Errorf("line %d: expected %q, got %q", i, expect[i], lines[i])
		}
	}
	if b, _ := io.ReadAll(NewEntryReader(nil, true)); len(b) != 0 {
		t.Errorf("expected no output for no entries")
	}
}
