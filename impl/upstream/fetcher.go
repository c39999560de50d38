package upstream

import (
	"context"
	"time"

	"github.com/aceeric/dxdocker/impl/cache"
	"github.com/aceeric/dxdocker/impl/config"
	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/pullrequest"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	layercache "github.com/google/go-containerregistry/pkg/v1/cache"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultOs   = "linux"
	DefaultArch = "amd64"
)

// Fetcher gets images from upstream registries and saves them as docker-archive
// tarballs. Layers are kept in a go-containerregistry filesystem cache so images
// sharing layers only download them once.
type Fetcher struct {
	blobsDir string
	platform v1.Platform
}

// NewFetcher returns a Fetcher that keeps layers under 'blobsDir' and selects the
// passed os and architecture from multi-platform images. Empty values select
// linux/amd64.
func NewFetcher(blobsDir, os, arch string) *Fetcher {
	if os == "" {
		os = DefaultOs
	}
	if arch == "" {
		arch = DefaultArch
	}
	return &Fetcher{
		blobsDir: blobsDir,
		platform: v1.Platform{OS: os, Architecture: arch},
	}
}

// Fetch gets the image for 'pr' and writes it to 'dest'. It has the signature of a
// cache.FetchFunc. The returned result has the digest of the manifest that the
// reference resolved to.
func (f *Fetcher) Fetch(ctx context.Context, pr pullrequest.PullRequest, dest string) (cache.FetchResult, error) {
	start := time.Now()
	descriptor, ref, err := f.cranePull(ctx, pr)
	if err != nil {
		return cache.FetchResult{}, err
	}
	result := cache.FetchResult{
		Digest:    descriptor.Digest.String(),
		MediaType: string(descriptor.MediaType),
	}
	manifest, err := ParseManifest(descriptor.MediaType, descriptor.Manifest)
	if err != nil {
		return result, dxerr.Wrap(err, dxerr.ManifestInvalid, "invalid manifest for %s", pr.Familiar())
	}
	if manifest.Type == ManifestListType && !manifest.Ml.HasPlatform(f.platform.OS, f.platform.Architecture) {
		return result, dxerr.New(dxerr.ImageNotFound, "image %s has no manifest for platform %s", pr.Familiar(), f.platform.String())
	}
	img, err := f.resolveImage(descriptor, pr)
	if err != nil {
		return result, err
	}
	if err := f.craneDownloadImg(ctx, ref, img, pr, dest); err != nil {
		return result, err
	}
	log.Debugf("saved %s to %s in %s", pr, dest, time.Since(start))
	return result, nil
}

// cranePull gets the descriptor for the manifest that 'pr' references.
func (f *Fetcher) cranePull(ctx context.Context, pr pullrequest.PullRequest) (*remote.Descriptor, name.Reference, error) {
	opts, err := config.ConfigFor(ctx, pr.Remote)
	if err != nil {
		return nil, nil, dxerr.Wrap(err, dxerr.RegistryUnreachable, "unable to configure access to %s for %s", pr.Remote, pr.Familiar())
	}
	nameOpts := []name.Option{}
	if opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	ref, err := name.ParseReference(pr.Url(), nameOpts...)
	if err != nil {
		return nil, nil, dxerr.Wrap(err, dxerr.MalformedReference, "unable to parse %s", pr.Familiar())
	}
	remoteOpts := append(opts.RemoteOptions(), remote.WithContext(ctx), remote.WithPlatform(f.platform))
	log.Debugf("get manifest for %s", ref)
	descriptor, err := remote.Get(ref, remoteOpts...)
	if err != nil {
		return nil, nil, mapError(err, pr, dxerr.ManifestInvalid)
	}
	return descriptor, ref, nil
}

// resolveImage gets the image from the descriptor, selecting the platform image if the
// descriptor is a manifest list, and validates the image manifest and config.
func (f *Fetcher) resolveImage(descriptor *remote.Descriptor, pr pullrequest.PullRequest) (v1.Image, error) {
	img, err := descriptor.Image()
	if err != nil {
		return nil, mapError(err, pr, dxerr.ManifestInvalid)
	}
	mt, err := img.MediaType()
	if err != nil {
		return nil, mapError(err, pr, dxerr.ManifestInvalid)
	}
	raw, err := img.RawManifest()
	if err != nil {
		return nil, mapError(err, pr, dxerr.ManifestInvalid)
	}
	manifest, err := ParseManifest(mt, raw)
	if err != nil {
		return nil, dxerr.Wrap(err, dxerr.ManifestInvalid, "invalid image manifest for %s", pr.Familiar())
	} else if manifest.Type != ImageManifestType {
		return nil, dxerr.New(dxerr.ManifestInvalid, "nested manifest list for %s", pr.Familiar())
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, mapError(err, pr, dxerr.ManifestInvalid)
	}
	if err := validateConfig(cfg, len(manifest.Im.Layers)); err != nil {
		return nil, dxerr.Wrap(err, dxerr.ManifestInvalid, "invalid image config for %s", pr.Familiar())
	}
	return img, nil
}

// craneDownloadImg pulls the layers through the layer cache and saves the image as a
// tarball at 'dest', then reloads the tarball to verify it.
func (f *Fetcher) craneDownloadImg(ctx context.Context, ref name.Reference, img v1.Image, pr pullrequest.PullRequest, dest string) error {
	if f.blobsDir != "" {
		img = layercache.Image(img, layercache.NewFilesystemCache(f.blobsDir))
	}
	craneOpts := []crane.Option{crane.WithContext(ctx)}
	if ref.Context().Registry.Scheme() == "http" {
		craneOpts = append(craneOpts, crane.Insecure)
	}
	if err := crane.MultiSave(map[string]v1.Image{ref.String(): img}, dest, craneOpts...); err != nil {
		return mapError(err, pr, dxerr.ConversionFailed)
	}
	return verifyArtifact(img, dest, pr)
}

// verifyArtifact checks that the tarball at 'path' holds the same image as 'img'
func verifyArtifact(img v1.Image, path string, pr pullrequest.PullRequest) error {
	saved, err := tarball.ImageFromPath(path, nil)
	if err != nil {
		return dxerr.Wrap(err, dxerr.ConversionFailed, "unable to read back saved image for %s", pr.Familiar())
	}
	want, err := img.ConfigName()
	if err != nil {
		return dxerr.Wrap(err, dxerr.ConversionFailed, "unable to get config digest for %s", pr.Familiar())
	}
	got, err := saved.ConfigName()
	if err != nil {
		return dxerr.Wrap(err, dxerr.ConversionFailed, "unable to get saved config digest for %s", pr.Familiar())
	}
	if got != want {
		return dxerr.New(dxerr.ConversionFailed, "saved image for %s has config %s, expected %s", pr.Familiar(), got, want)
	}
	wantLayers, err := img.Layers()
	if err != nil {
		return dxerr.Wrap(err, dxerr.ConversionFailed, "unable to get layers for %s", pr.Familiar())
	}
	gotLayers, err := saved.Layers()
	if err != nil || len(gotLayers) != len(wantLayers) {
		return dxerr.New(dxerr.ConversionFailed, "saved image for %s has %d layers, expected %d", pr.Familiar(), len(gotLayers), len(wantLayers))
	}
	return nil
}
