package mock

import (
	"archive/tar"
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// RandomImage returns a linux/amd64 image with 'layers' random layers and the
// passed runtime config.
func RandomImage(layers int64, cfg v1.Config) (v1.Image, error) {
	img, err := random.Image(256, layers)
	if err != nil {
		return nil, err
	}
	return withConfig(img, "linux", "amd64", cfg)
}

// ImageFromFiles returns a linux/amd64 image with one layer holding the passed files,
// keyed by path. A path ending in "/" is a directory, and a value starting with "->"
// makes the path a symlink to the rest of the value.
func ImageFromFiles(files map[string]string, cfg v1.Config) (v1.Image, error) {
	layer, err := LayerFromFiles(files)
	if err != nil {
		return nil, err
	}
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return nil, err
	}
	return withConfig(img, "linux", "amd64", cfg)
}

// LayerFromFiles builds an uncompressed tar layer from the passed files as described
// by ImageFromFiles.
func LayerFromFiles(files map[string]string) (v1.Layer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		content := files[p]
		hdr := &tar.Header{Name: p, Mode: 0644}
		switch {
		case strings.HasSuffix(p, "/"):
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		case strings.HasPrefix(content, "->"):
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = strings.TrimPrefix(content, "->")
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(content))
			if strings.HasPrefix(content, "#!") {
				hdr.Mode = 0755
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(content)); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// withConfig sets the platform and runtime config of the passed image
func withConfig(img v1.Image, os, arch string, cfg v1.Config) (v1.Image, error) {
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cf = cf.DeepCopy()
	cf.OS = os
	cf.Architecture = arch
	cf.RootFS.Type = "layers"
	cf.Config = cfg
	return mutate.ConfigFile(img, cf)
}

// Index returns an image index with one random image for each passed platform
func Index(platforms ...v1.Platform) (v1.ImageIndex, error) {
	var idx v1.ImageIndex = empty.Index
	for _, p := range platforms {
		img, err := random.Image(256, 1)
		if err != nil {
			return nil, err
		}
		if img, err = withConfig(img, p.OS, p.Architecture, v1.Config{Cmd: []string{"/bin/true"}}); err != nil {
			return nil, err
		}
		idx = mutate.AppendManifests(idx, mutate.IndexAddendum{
			Add: img,
			Descriptor: v1.Descriptor{
				Platform: &v1.Platform{OS: p.OS, Architecture: p.Architecture},
			},
		})
	}
	return idx, nil
}

// Push pushes the passed image to the mock server at 'url' (host:port) under 'repoTag'
// which is like "library/busybox:latest". Returns the manifest digest.
func Push(url, repoTag string, img v1.Image, params MockParams) (string, error) {
	ref, err := name.ParseReference(url + "/" + repoTag)
	if err != nil {
		return "", err
	}
	if err := remote.Write(ref, img, pushOpts(params)...); err != nil {
		return "", err
	}
	d, err := img.Digest()
	return d.String(), err
}

// PushIndex is Push for an image index
func PushIndex(url, repoTag string, idx v1.ImageIndex, params MockParams) (string, error) {
	ref, err := name.ParseReference(url + "/" + repoTag)
	if err != nil {
		return "", err
	}
	if err := remote.WriteIndex(ref, idx, pushOpts(params)...); err != nil {
		return "", err
	}
	d, err := idx.Digest()
	return d.String(), err
}

// pushOpts authenticates as the mock server expects and skips verification of the
// mock server's certs
func pushOpts(params MockParams) []remote.Option {
	opts := []remote.Option{}
	if params.Auth == BASIC {
		opts = append(opts, remote.WithAuth(&authn.Basic{Username: params.User, Password: params.Password}))
	}
	if params.Scheme == HTTPS {
		t := remote.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		opts = append(opts, remote.WithTransport(t))
	}
	return opts
}

// WriteArtifact writes the passed image to 'path' as a docker-archive tarball,
// which is the form images take in the cache.
func WriteArtifact(path, repoTag string, img v1.Image) error {
	tag, err := name.NewTag(repoTag)
	if err != nil {
		return err
	}
	return tarball.WriteToFile(path, tag, img)
}
