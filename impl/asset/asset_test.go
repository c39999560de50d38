package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/platform"
	"github.com/aceeric/dxdocker/impl/pullrequest"
	"github.com/aceeric/dxdocker/impl/serialize"
	"github.com/aceeric/dxdocker/mock"

	"github.com/klauspost/compress/gzip"
)

const token = "s3cr3t"

// cachedArtifact puts a fake artifact and sidecar for 'ref' in a cache root
func cachedArtifact(t *testing.T, ref string) (string, pullrequest.PullRequest) {
	t.Helper()
	root := t.TempDir()
	pr := pullrequest.MustParse(ref)
	path := serialize.ArtifactPath(root, pr.Key())
	if err := os.WriteFile(path, bytes.Repeat([]byte("layer data "), 1000), 0644); err != nil {
		t.Fatal(err)
	}
	if err := serialize.ToFilesystem(root, pr.Key(), serialize.Meta{Reference: pr.Familiar(), Digest: "sha256:abc"}); err != nil {
		t.Fatal(err)
	}
	return path, pr
}

func TestDefaultName(t *testing.T) {
	for ref, expect := range map[string]string{
		"ubuntu:14.04":              "ubuntu:14.04",
		"busybox":                   "busybox",
		"docker.io/library/busybox": "busybox",
		"quay.io/ucsc_cgl/samtools": "quay.io_ucsc_cgl_samtools",
		"geetduggal/testdocker:1":   "geetduggal_testdocker:1",
	} {
		if got := DefaultName(pullrequest.MustParse(ref)); got != expect {
			t.Errorf("%s: expected %s, got %s", ref, expect, got)
		}
	}
}

func TestAddToAppletNoDescriptor(t *testing.T) {
	artifact, pr := cachedArtifact(t, "busybox")
	p := New("/tmp/dx-docker-cache", nil)
	for _, content := range []string{"", "{not json"} {
		applet := t.TempDir()
		if content != "" {
			os.WriteFile(filepath.Join(applet, descriptor), []byte(content), 0644)
		}
		before, _ := os.ReadDir(applet)
		_, err := p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Applet(applet)})
		if !dxerr.Is(err, dxerr.DestinationInvalid) {
			t.Errorf("expected DestinationInvalid, got %v", err)
		}
		after, _ := os.ReadDir(applet)
		if len(before) != len(after) {
			t.Errorf("expected the applet directory to be unmodified")
		}
	}
}

func TestAddToApplet(t *testing.T) {
	artifact, pr := cachedArtifact(t, "busybox")
	applet := t.TempDir()
	os.WriteFile(filepath.Join(applet, descriptor), []byte("[]"), 0644)
	p := New("/tmp/dx-docker-cache", nil)
	dest, err := p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Applet(applet)})
	if err != nil {
		t.Fatal(err)
	}
	expect := filepath.Join(applet, "resources/tmp/dx-docker-cache/busybox.tar")
	if dest != expect {
		t.Errorf("expected %s, got %s", expect, dest)
	}
	want, _ := os.ReadFile(artifact)
	if got, err := os.ReadFile(expect); err != nil || !bytes.Equal(got, want) {
		t.Errorf("artifact not copied: %v", err)
	}
	meta, err := serialize.FromFilesystem(filepath.Dir(expect), "busybox")
	if err != nil || meta.Digest != "sha256:abc" {
		t.Errorf("sidecar not copied: %+v %v", meta, err)
	}
	// a second add replaces the artifact
	if _, err := p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Applet(applet)}); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Dir(expect))
	if len(entries) != 2 {
		t.Errorf("expected only the artifact and the sidecar, got %d entries", len(entries))
	}
}

func TestCreateAsset(t *testing.T) {
	ps := mock.NewPlatformServer(token)
	defer ps.Close()
	artifact, pr := cachedArtifact(t, "quay.io/ucsc_cgl/samtools")
	p := New(filepath.Dir(artifact), platform.NewClient(ps.URL, token))
	req := Request{
		ArtifactPath: artifact,
		Reference:    pr,
		Digest:       "sha256:abc",
		Destination:  Folder("project-1", "/assets/images", ""),
	}
	id, err := p.Package(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !ps.HasFolder("project-1", "/assets/images") {
		t.Errorf("expected the folder to be created")
	}
	files := ps.Files()
	if len(files) != 2 {
		t.Fatalf("expected two uploads, got %d", len(files))
	}
	archive, record := files[0], files[1]
	if archive.Name != "quay.io_ucsc_cgl_samtools.tar.gz" || archive.Folder != "/assets/images" || !archive.Closed || !archive.Hidden {
		t.Errorf("unexpected archive %s in %s", archive.Name, archive.Folder)
	}
	gz, err := gzip.NewReader(bytes.NewReader(archive.Data))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(gz)
	want, _ := os.ReadFile(artifact)
	if !bytes.Equal(got, want) {
		t.Errorf("archive does not decompress to the artifact")
	}
	if record.ID != id || record.Name != "quay.io_ucsc_cgl_samtools" || record.Hidden {
		t.Errorf("unexpected record %s %s", record.ID, record.Name)
	}
	// only the record is visible in the folder
	listing, err := platform.NewClient(ps.URL, token).ListFolder(context.Background(), "project-1", "/assets/images")
	if err != nil || len(listing.Objects) != 1 || listing.Objects[0].ID != id {
		t.Errorf("expected only the record in the listing, got %+v %v", listing.Objects, err)
	}
	rec := Record{}
	if err := json.Unmarshal(record.Data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Reference != "quay.io/ucsc_cgl/samtools" || rec.Digest != "sha256:abc" || rec.Archive.ID != archive.ID {
		t.Errorf("unexpected record content %+v", rec)
	}
}

func TestCreateAssetFailures(t *testing.T) {
	ps := mock.NewPlatformServer(token)
	defer ps.Close()
	ps.FailUploads = true
	artifact, pr := cachedArtifact(t, "ubuntu:14.04")
	p := New(filepath.Dir(artifact), platform.NewClient(ps.URL, token))
	_, err := p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Folder("project-1", "/", "")})
	if !dxerr.Is(err, dxerr.UploadFailed) {
		t.Errorf("expected UploadFailed, got %v", err)
	}
	p = New(filepath.Dir(artifact), platform.NewClient(ps.URL, "wrong"))
	_, err = p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Folder("project-1", "/x", "")})
	if !dxerr.Is(err, dxerr.UploadFailed) {
		t.Errorf("expected UploadFailed, got %v", err)
	}
	_, err = p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Folder("", "/x", "")})
	if !dxerr.Is(err, dxerr.DestinationInvalid) {
		t.Errorf("expected DestinationInvalid, got %v", err)
	}
}

// recordingStore is an ObjectStore that records folder creation
type recordingStore struct {
	listing platform.Listing
	created []string
	uploads []string
	failOn  string
}

func (s *recordingStore) CreateFolder(_ context.Context, _, path string) error {
	s.created = append(s.created, path)
	return nil
}

func (s *recordingStore) ListFolder(context.Context, string, string) (platform.Listing, error) {
	return s.listing, nil
}

func (s *recordingStore) Upload(_ context.Context, data io.Reader, name, _, _ string, _ bool) (string, error) {
	if name == s.failOn {
		return "", errors.New("injected failure")
	}
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", err
	}
	s.uploads = append(s.uploads, name)
	return "file-" + name, nil
}

func TestCreateAssetFolderHandling(t *testing.T) {
	artifact, pr := cachedArtifact(t, "ubuntu:14.04")
	for _, tc := range []struct {
		name    string
		folder  string
		listing platform.Listing
		created int
	}{
		{"exists", "/assets", platform.Listing{Folders: []string{"/assets"}}, 0},
		{"absent", "/assets", platform.Listing{Folders: []string{"/other"}}, 1},
		{"root", "/", platform.Listing{}, 0},
	} {
		store := &recordingStore{listing: tc.listing}
		p := New(filepath.Dir(artifact), store)
		id, err := p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Folder("project-1", tc.folder, "my-asset")})
		if err != nil {
			t.Fatal(err)
		}
		if len(store.created) != tc.created {
			t.Errorf("%s: expected %d folders created, got %v", tc.name, tc.created, store.created)
		}
		if id != "file-my-asset" || len(store.uploads) != 2 || store.uploads[0] != "my-asset.tar.gz" {
			t.Errorf("%s: unexpected uploads %v with id %s", tc.name, store.uploads, id)
		}
	}
}

func TestCreateAssetArchiveFailure(t *testing.T) {
	artifact, pr := cachedArtifact(t, "ubuntu:14.04")
	store := &recordingStore{failOn: "ubuntu:14.04.tar.gz"}
	p := New(filepath.Dir(artifact), store)
	_, err := p.Package(context.Background(), Request{ArtifactPath: artifact, Reference: pr, Destination: Folder("project-1", "/", "")})
	if !dxerr.Is(err, dxerr.UploadFailed) {
		t.Errorf("expected UploadFailed, got %v", err)
	}
	if len(store.uploads) != 0 {
		t.Errorf("expected no record after a failed archive upload, got %v", store.uploads)
	}
}
