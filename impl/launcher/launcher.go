// Package launcher runs a command in a container created from a cached image
// artifact. The artifact is flattened into an execution root under the cache,
// volume mount points are created in the root, and an Engine runs the command.
// The exit code of the command is handed back to the caller unchanged.
package launcher

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/extractor"
	"github.com/aceeric/dxdocker/impl/metrics"

	securejoin "github.com/cyphar/filepath-securejoin"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPath    = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	defaultHome    = "HOME=/root"
	defaultWorkDir = "/"
)

// RunSpec describes one container run
type RunSpec struct {
	// ArtifactPath is the cached docker-archive tarball to run
	ArtifactPath string
	// Reference is only used in messages
	Reference string
	Volumes   []VolumeMount
	// WorkDir overrides the working directory of the image if not empty
	WorkDir string
	// Command replaces the entrypoint and cmd of the image if not empty
	Command []string
	// Env entries are added to the environment of the image, replacing image
	// entries with the same name
	Env             []string
	RemoveAfterExit bool
	Stdin           io.Reader
	Stdout          io.Writer
	Stderr          io.Writer
}

// Launcher creates execution roots under 'containersDir' and runs them with
// an engine.
type Launcher struct {
	containersDir string
	engine        Engine
}

// New returns a Launcher
func New(containersDir string, engine Engine) *Launcher {
	return &Launcher{
		containersDir: containersDir,
		engine:        engine,
	}
}

// Run runs the container described by 'spec' and returns the exit code of
// the command. Errors are coded LaunchFailed. If spec.RemoveAfterExit is set the
// execution root is removed on every return path.
func (l *Launcher) Run(ctx context.Context, spec RunSpec) (int, error) {
	vols, err := resolveVolumes(spec.Volumes)
	if err != nil {
		return 1, err
	}
	if spec.WorkDir != "" && !path.IsAbs(spec.WorkDir) {
		return 1, dxerr.New(dxerr.LaunchFailed, "working directory %s must be absolute", spec.WorkDir)
	}
	img, err := tarball.ImageFromPath(spec.ArtifactPath, nil)
	if err != nil {
		return 1, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to load image %s from %s", spec.Reference, spec.ArtifactPath)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return 1, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to read the config of image %s", spec.Reference)
	}
	command := spec.Command
	if len(command) == 0 {
		command = append(append([]string{}, cfg.Config.Entrypoint...), cfg.Config.Cmd...)
	}
	if len(command) == 0 {
		return 1, dxerr.New(dxerr.LaunchFailed, "image %s declares no entrypoint or cmd and no command was given", spec.Reference)
	}
	workDir := spec.WorkDir
	if workDir == "" {
		workDir = cfg.Config.WorkingDir
	}
	if workDir == "" {
		workDir = defaultWorkDir
	}

	root := filepath.Join(l.containersDir, uuid.New().String())
	if err := os.MkdirAll(root, 0755); err != nil {
		return 1, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to create execution root %s", root)
	}
	if spec.RemoveAfterExit {
		defer func() {
			if err := os.RemoveAll(root); err != nil {
				log.Warnf("unable to remove execution root %s: %s", root, err)
			}
		}()
	}
	start := time.Now()
	if err := materialize(img, root); err != nil {
		return 1, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to create execution root for %s", spec.Reference)
	}
	log.Debugf("created execution root %s for %s in %s", root, spec.Reference, time.Since(start))
	if err := mountPoints(root, vols, workDir); err != nil {
		return 1, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to prepare execution root %s", root)
	}

	inv := Invocation{
		Root:    root,
		Volumes: vols,
		WorkDir: workDir,
		Command: command,
		Env:     mergeEnv(cfg.Config.Env, spec.Env),
		Stdin:   spec.Stdin,
		Stdout:  spec.Stdout,
		Stderr:  spec.Stderr,
	}
	metrics.IncRunsByEngine(l.engine.Name())
	log.Infof("running %s with %s: %s", spec.Reference, l.engine.Name(), strings.Join(command, " "))
	code, err := l.engine.Run(ctx, inv)
	if err != nil {
		return code, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to run %s", spec.Reference)
	}
	log.Debugf("%s exited with %d", spec.Reference, code)
	return code, nil
}

// materialize flattens the layers of the image into 'root', applying whiteouts
func materialize(img v1.Image, root string) error {
	rc := mutate.Extract(img)
	defer rc.Close()
	return extractor.Extract(rc, root)
}

// mountPoints creates the container side of every volume and the working
// directory inside 'root'. Paths are resolved inside the root.
func mountPoints(root string, vols []VolumeMount, workDir string) error {
	for _, v := range vols {
		target, err := securejoin.SecureJoin(root, v.ContainerPath)
		if err != nil {
			return err
		}
		fi, err := os.Stat(v.HostPath)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		f.Close()
	}
	dir, err := securejoin.SecureJoin(root, workDir)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// mergeEnv returns the image environment with 'extra' applied on top. PATH and
// HOME get defaults when the image does not set them.
func mergeEnv(image, extra []string) []string {
	env := []string{}
	idx := map[string]int{}
	for _, e := range append(append([]string{defaultPath, defaultHome}, image...), extra...) {
		name, _, _ := strings.Cut(e, "=")
		if i, ok := idx[name]; ok {
			env[i] = e
			continue
		}
		idx[name] = len(env)
		env = append(env, e)
	}
	return env
}
