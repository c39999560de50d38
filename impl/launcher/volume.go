package launcher

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aceeric/dxdocker/impl/dxerr"
)

// VolumeMount binds a host path to a path inside the container
type VolumeMount struct {
	HostPath      string
	ContainerPath string
}

func (v VolumeMount) String() string {
	return v.HostPath + ":" + v.ContainerPath
}

// ParseVolume parses a 'host:container' volume spec. Neither side may be empty.
// The host side is returned as given. It is resolved when the container is run.
func ParseVolume(spec string) (VolumeMount, error) {
	host, ctr, found := strings.Cut(spec, ":")
	if !found || host == "" || ctr == "" || strings.Contains(ctr, ":") {
		return VolumeMount{}, fmt.Errorf("invalid volume %q, expected host-path:container-path", spec)
	}
	return VolumeMount{HostPath: host, ContainerPath: ctr}, nil
}

// resolveVolumes makes every host path absolute and checks that it exists and can
// be read, and that every container path is absolute. When more than one mount
// targets the same container path, the last one wins, and it keeps the position
// of the last occurrence.
func resolveVolumes(vols []VolumeMount) ([]VolumeMount, error) {
	resolved := make([]VolumeMount, 0, len(vols))
	for _, v := range vols {
		host, err := filepath.Abs(v.HostPath)
		if err != nil {
			return nil, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to resolve volume host path %s", v.HostPath)
		}
		f, err := os.Open(host)
		if err != nil {
			return nil, dxerr.Wrap(err, dxerr.LaunchFailed, "volume host path %s is not readable", host)
		}
		f.Close()
		if !path.IsAbs(v.ContainerPath) {
			return nil, dxerr.New(dxerr.LaunchFailed, "volume container path %s must be absolute", v.ContainerPath)
		}
		resolved = append(resolved, VolumeMount{HostPath: host, ContainerPath: path.Clean(v.ContainerPath)})
	}
	deduped := []VolumeMount{}
	for i, v := range resolved {
		shadowed := false
		for _, later := range resolved[i+1:] {
			if later.ContainerPath == v.ContainerPath {
				shadowed = true
				break
			}
		}
		if !shadowed {
			deduped = append(deduped, v)
		}
	}
	return deduped, nil
}
