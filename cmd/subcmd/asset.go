package subcmd

import (
	"context"
	"fmt"
	"io"

	"github.com/aceeric/dxdocker/impl/asset"
	"github.com/aceeric/dxdocker/impl/config"
	"github.com/aceeric/dxdocker/impl/platform"
)

// AddToApplet pulls the image if needed and copies it into the resources of the
// applet directory on the command line.
func AddToApplet(ctx context.Context, out io.Writer, errOut io.Writer) error {
	return packageImage(ctx, asset.Applet(config.GetAssetConfig().AppletDir), nil, out, errOut)
}

// CreateAsset pulls the image if needed and uploads it to the configured platform
// folder. The id of the uploaded record is printed on 'out'.
func CreateAsset(ctx context.Context, out io.Writer, errOut io.Writer) error {
	ac := config.GetAssetConfig()
	pc := config.GetPlatform()
	// a nil *platform.Client would make a non-nil interface
	var store asset.ObjectStore
	if pc.ApiServer != "" {
		store = platform.NewClient(pc.ApiServer, pc.Token)
	}
	return packageImage(ctx, asset.Folder(pc.Project, ac.Folder, ac.Name), store, out, errOut)
}

func packageImage(ctx context.Context, dst asset.Destination, store asset.ObjectStore, out io.Writer, errOut io.Writer) error {
	im, err := openImages()
	if err != nil {
		return err
	}
	entry, pr, err := im.obtain(ctx, config.GetRefs()[0], errOut)
	if err != nil {
		return err
	}
	loc, err := asset.New(im.store.Root(), store).Package(ctx, asset.Request{
		ArtifactPath: entry.ArtifactPath,
		Reference:    pr,
		Digest:       entry.Digest,
		Destination:  dst,
	})
	if err != nil {
		return err
	}
	if dst.Type == asset.RemoteFolder || !config.GetQuiet() {
		fmt.Fprintln(out, loc)
	}
	return nil
}
