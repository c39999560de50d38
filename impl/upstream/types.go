package upstream

import (
	"encoding/json"
	"errors"
	"fmt"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
)

// Descriptor is the 'config' part of an 'ImageManifest' and also each element of
// its 'layers' list
type Descriptor struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// ImageManifest is an image manifest, docker v2 schema 2 or OCI
type ImageManifest struct {
	SchemaVersion int          `json:"schemaVersion"`
	MediaType     string       `json:"mediaType"`
	Config        Descriptor   `json:"config"`
	Layers        []Descriptor `json:"layers"`
}

// ManifestPlatform is the 'platform' entry of a 'ManifestItem'
type ManifestPlatform struct {
	Architecture string `json:"architecture"`
	Os           string `json:"os"`
	Variant      string `json:"variant"`
}

// ManifestItem is one manifest in the 'manifests' list of 'ManifestList'
type ManifestItem struct {
	MediaType string           `json:"mediaType"`
	Size      int64            `json:"size"`
	Digest    string           `json:"digest"`
	Platform  ManifestPlatform `json:"platform"`
}

// ManifestList is a docker manifest list or OCI image index
type ManifestList struct {
	SchemaVersion int            `json:"schemaVersion"`
	MediaType     string         `json:"mediaType"`
	Manifests     []ManifestItem `json:"manifests"`
}

type ManifestType int

const (
	ManifestListType ManifestType = iota
	ImageManifestType
)

// Manifest holds exactly one of an image manifest or a manifest list, as
// indicated by Type
type Manifest struct {
	Type ManifestType
	Im   ImageManifest
	Ml   ManifestList
}

// ParseManifest parses a raw manifest of the passed media type and validates it.
func ParseManifest(mediaType types.MediaType, raw []byte) (Manifest, error) {
	switch {
	case mediaType.IsIndex():
		var ml ManifestList
		if err := json.Unmarshal(raw, &ml); err != nil {
			return Manifest{}, fmt.Errorf("unable to parse manifest list: %w", err)
		}
		return Manifest{Type: ManifestListType, Ml: ml}, ml.Validate()
	case mediaType.IsImage():
		var im ImageManifest
		if err := json.Unmarshal(raw, &im); err != nil {
			return Manifest{}, fmt.Errorf("unable to parse image manifest: %w", err)
		}
		return Manifest{Type: ImageManifestType, Im: im}, im.Validate()
	}
	return Manifest{}, fmt.Errorf("unsupported manifest media type %q", mediaType)
}

// Validate checks the fields that the fetcher relies on
func (im ImageManifest) Validate() error {
	if im.SchemaVersion != 2 {
		return fmt.Errorf("unsupported manifest schemaVersion %d", im.SchemaVersion)
	}
	if im.Config.Digest == "" {
		return errors.New("manifest has no config digest")
	}
	if err := digest.Digest(im.Config.Digest).Validate(); err != nil {
		return fmt.Errorf("invalid config digest %q: %w", im.Config.Digest, err)
	}
	for i, layer := range im.Layers {
		if err := digest.Digest(layer.Digest).Validate(); err != nil {
			return fmt.Errorf("invalid digest %q for layer %d: %w", layer.Digest, i, err)
		}
	}
	return nil
}

// Validate checks that the list is non-empty and references valid digests
func (ml ManifestList) Validate() error {
	if ml.SchemaVersion != 2 {
		return fmt.Errorf("unsupported manifest list schemaVersion %d", ml.SchemaVersion)
	}
	if len(ml.Manifests) == 0 {
		return errors.New("manifest list is empty")
	}
	for _, m := range ml.Manifests {
		if err := digest.Digest(m.Digest).Validate(); err != nil {
			return fmt.Errorf("invalid digest %q in manifest list: %w", m.Digest, err)
		}
	}
	return nil
}

// HasPlatform returns true if the list has an image for the passed os and architecture
func (ml ManifestList) HasPlatform(os, arch string) bool {
	for _, m := range ml.Manifests {
		if m.Platform.Os == os && m.Platform.Architecture == arch {
			return true
		}
	}
	return false
}

// validateConfig checks that the image config declares an operating system
// and a layered root filesystem matching the manifest
func validateConfig(cfg *v1.ConfigFile, layers int) error {
	if cfg.OS == "" {
		return errors.New("image config has no os")
	}
	if cfg.RootFS.Type != "layers" {
		return fmt.Errorf("image config has unsupported rootfs type %q", cfg.RootFS.Type)
	}
	if len(cfg.RootFS.DiffIDs) != layers {
		return fmt.Errorf("image config has %d diff ids for %d layers", len(cfg.RootFS.DiffIDs), layers)
	}
	return nil
}
