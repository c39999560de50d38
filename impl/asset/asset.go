// Package asset packages cached images for the job execution platform. An image
// is either copied into the resources of a local applet directory, so that the
// cache on a worker starts out with the image in it, or uploaded to a folder in
// a platform project as a compressed archive plus a record that names it.
package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/metrics"
	"github.com/aceeric/dxdocker/impl/platform"
	"github.com/aceeric/dxdocker/impl/pullrequest"
	"github.com/aceeric/dxdocker/impl/serialize"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
)

// DestinationType selects where an asset goes
type DestinationType int

const (
	LocalApplet DestinationType = iota
	RemoteFolder
)

func (d DestinationType) String() string {
	if d == RemoteFolder {
		return "remote"
	}
	return "applet"
}

const (
	// descriptor must be present in an applet directory and must parse as json
	descriptor = "dxapp.json"
	// resourcesDir is copied to the root of the worker file system
	resourcesDir = "resources"
	archiveExt   = ".tar.gz"
)

// ObjectStore is the part of the platform API the packager needs. A hidden upload
// does not show in folder listings.
type ObjectStore interface {
	CreateFolder(ctx context.Context, project, path string) error
	ListFolder(ctx context.Context, project, path string) (platform.Listing, error)
	Upload(ctx context.Context, data io.Reader, name, project, folder string, hidden bool) (string, error)
}

// Destination is a local applet directory or a folder in a project
type Destination struct {
	Type      DestinationType
	AppletDir string
	Project   string
	Folder    string
	// Name of the record object. If empty it is derived from the reference.
	Name string
}

// Applet returns a local applet destination
func Applet(dir string) Destination {
	return Destination{Type: LocalApplet, AppletDir: dir}
}

// Folder returns a remote folder destination
func Folder(project, folder, name string) Destination {
	return Destination{Type: RemoteFolder, Project: project, Folder: folder, Name: name}
}

// Request asks for one cached image to be packaged
type Request struct {
	ArtifactPath string
	Reference    pullrequest.PullRequest
	// Digest is the resolved manifest digest, recorded in the remote record
	Digest      string
	Destination Destination
}

// Record is the json object uploaded next to a remote archive
type Record struct {
	Reference string `json:"reference"`
	Url       string `json:"url"`
	Digest    string `json:"digest,omitempty"`
	CacheKey  string `json:"cacheKey"`
	Archive   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"archive"`
}

// Packager packages artifacts from the cache at cacheRoot. The object store is
// only needed for remote destinations.
type Packager struct {
	cacheRoot string
	store     ObjectStore
}

// New returns a Packager
func New(cacheRoot string, store ObjectStore) *Packager {
	return &Packager{
		cacheRoot: cacheRoot,
		store:     store,
	}
}

// Package packages the artifact in the request. For an applet it returns the path
// of the copied artifact. For a remote folder it returns the id of the record object.
func (p *Packager) Package(ctx context.Context, req Request) (string, error) {
	var loc string
	var err error
	switch req.Destination.Type {
	case LocalApplet:
		loc, err = p.addToApplet(req)
	case RemoteFolder:
		loc, err = p.upload(ctx, req)
	default:
		return "", dxerr.New(dxerr.DestinationInvalid, "unknown destination type %d", req.Destination.Type)
	}
	if err == nil {
		metrics.IncAssetsByDestination(req.Destination.Type.String())
	}
	return loc, err
}

// DefaultName derives the record name from the reference: the familiar form with
// path separators replaced by underscores.
func DefaultName(pr pullrequest.PullRequest) string {
	return strings.ReplaceAll(pr.Familiar(), "/", "_")
}

// ResourcePath returns where in an applet directory the artifact for 'key' goes, so
// that it lands in the cache at 'cacheRoot' on the worker.
func ResourcePath(appletDir, cacheRoot, key string) string {
	rel := strings.TrimLeft(filepath.Clean(cacheRoot), string(filepath.Separator))
	return filepath.Join(appletDir, resourcesDir, rel, key+serialize.ArtifactSuffix)
}

// addToApplet copies the artifact and its sidecar into the applet. Nothing in the
// applet is touched unless it has a descriptor that parses.
func (p *Packager) addToApplet(req Request) (string, error) {
	dir := req.Destination.AppletDir
	b, err := os.ReadFile(filepath.Join(dir, descriptor))
	if err != nil || !json.Valid(b) {
		return "", dxerr.New(dxerr.DestinationInvalid, "%s does not appear to have a %s that parses", dir, descriptor)
	}
	key := req.Reference.Key()
	dest := ResourcePath(dir, p.cacheRoot, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", dxerr.Wrap(err, dxerr.DestinationInvalid, "unable to create %s", filepath.Dir(dest))
	}
	if err := copyAtomically(req.ArtifactPath, dest); err != nil {
		return "", dxerr.Wrap(err, dxerr.DestinationInvalid, "unable to copy %s to %s", req.Reference, dest)
	}
	if meta, err := os.ReadFile(serialize.MetaPath(filepath.Dir(req.ArtifactPath), key)); err == nil {
		if err := serialize.WriteAtomically(serialize.MetaPath(filepath.Dir(dest), key), meta); err != nil {
			return "", dxerr.Wrap(err, dxerr.DestinationInvalid, "unable to copy metadata for %s", req.Reference)
		}
	}
	log.Infof("added %s to applet %s", req.Reference, dir)
	return dest, nil
}

// upload uploads the compressed artifact and then the record naming it into the
// destination folder, creating the folder if needed.
func (p *Packager) upload(ctx context.Context, req Request) (string, error) {
	dst := req.Destination
	if p.store == nil {
		return "", dxerr.New(dxerr.UploadFailed, "no platform API is configured")
	}
	if dst.Project == "" {
		return "", dxerr.New(dxerr.DestinationInvalid, "a project is required to create an asset for %s", req.Reference)
	}
	folder := path.Clean("/" + dst.Folder)
	name := dst.Name
	if name == "" {
		name = DefaultName(req.Reference)
	}
	if err := p.ensureFolder(ctx, dst.Project, folder); err != nil {
		return "", dxerr.Wrap(err, dxerr.UploadFailed, "unable to create folder %s in %s", folder, dst.Project)
	}
	f, err := os.Open(req.ArtifactPath)
	if err != nil {
		return "", dxerr.Wrap(err, dxerr.UploadFailed, "unable to read the artifact for %s", req.Reference)
	}
	defer f.Close()

	archive := compress(f)
	defer archive.Close()
	// the archive is reached through the record so only the record is listed
	archiveId, err := p.store.Upload(ctx, archive, name+archiveExt, dst.Project, folder, true)
	if err != nil {
		return "", dxerr.Wrap(err, dxerr.UploadFailed, "unable to upload %s%s to %s:%s", name, archiveExt, dst.Project, folder)
	}
	rec := Record{
		Reference: req.Reference.Familiar(),
		Url:       req.Reference.Url(),
		Digest:    req.Digest,
		CacheKey:  req.Reference.Key(),
	}
	rec.Archive.ID = archiveId
	rec.Archive.Name = name + archiveExt
	b, err := json.Marshal(rec)
	if err != nil {
		return "", dxerr.Wrap(err, dxerr.UploadFailed, "unable to create the record for %s", req.Reference)
	}
	recordId, err := p.store.Upload(ctx, strings.NewReader(string(b)), name, dst.Project, folder, false)
	if err != nil {
		return "", dxerr.Wrap(err, dxerr.UploadFailed, "unable to upload %s to %s:%s", name, dst.Project, folder)
	}
	log.Infof("created asset %s (%s) for %s in %s:%s", name, recordId, req.Reference, dst.Project, folder)
	return recordId, nil
}

// ensureFolder creates 'folder' unless the listing of its parent shows it
func (p *Packager) ensureFolder(ctx context.Context, project, folder string) error {
	if folder == "/" {
		return nil
	}
	listing, err := p.store.ListFolder(ctx, project, path.Dir(folder))
	if err == nil && listing.HasFolder(folder) {
		return nil
	} else if err != nil {
		log.Debugf("unable to list the parent of %s: %s", folder, err)
	}
	return p.store.CreateFolder(ctx, project, folder)
}

// compress returns a reader of the gzip-compressed content of 'r'. The returned
// reader fails with any error from reading 'r'. Closing it stops the compression.
func compress(r io.Reader) *io.PipeReader {
	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		_, err := io.Copy(gz, r)
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr
}

// copyAtomically copies 'src' to a temp file next to 'dest' and renames it into place
func copyAtomically(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := fmt.Sprintf("%s.%d.%s%s", dest, os.Getpid(), uuid.New().String(), serialize.PartialSuffix)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
