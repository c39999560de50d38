package subcmd

import (
	"context"
	"io"

	"github.com/aceeric/dxdocker/impl/config"
	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/launcher"
)

// Streams are the standard streams handed to the container
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// execCommand is overridden by tests
var execCommand launcher.ExecCommandFunc

// Run pulls the image if needed and runs the configured command in it. It returns
// the exit code of the container command, or 1 if the command could not be run.
func Run(ctx context.Context, streams Streams) (int, error) {
	rc := config.GetRunConfig()
	vols := make([]launcher.VolumeMount, 0, len(rc.Volumes))
	for _, v := range rc.Volumes {
		vol, err := launcher.ParseVolume(v)
		if err != nil {
			return 1, err
		}
		vols = append(vols, vol)
	}
	engine, err := launcher.NewEngine(config.GetEngine(), execCommand)
	if err != nil {
		return 1, dxerr.Wrap(err, dxerr.LaunchFailed, "unable to select an engine")
	}
	im, err := openImages()
	if err != nil {
		return 1, err
	}
	entry, pr, err := im.obtain(ctx, config.GetRefs()[0], streams.Err)
	if err != nil {
		return 1, err
	}
	return launcher.New(im.store.ContainersDir(), engine).Run(ctx, launcher.RunSpec{
		ArtifactPath:    entry.ArtifactPath,
		Reference:       pr.Familiar(),
		Volumes:         vols,
		WorkDir:         rc.WorkDir,
		Command:         rc.Command,
		Env:             rc.Env,
		RemoveAfterExit: rc.Remove,
		Stdin:           streams.In,
		Stdout:          streams.Out,
		Stderr:          streams.Err,
	})
}
