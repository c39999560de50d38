package subcmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/aceeric/dxdocker/impl/config"
	"github.com/aceeric/dxdocker/impl/preload"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentPulls bounds the number of references pulled at once
const maxConcurrentPulls = 4

// Pull pulls every reference on the command line, and in the image file if one was
// given, into the cache concurrently.
// Each failure is reported on 'errOut'. Unless quiet, each success is reported
// on 'out'. The returned error is the first failure, if any.
func Pull(ctx context.Context, out io.Writer, errOut io.Writer) error {
	im, err := openImages()
	if err != nil {
		return err
	}
	refs := config.GetRefs()
	if config.GetImageFile() != "" {
		fromFile, err := preload.ReadRefs(config.GetImageFile())
		if err != nil {
			return err
		}
		refs = append(slices.Clone(refs), fromFile...)
	}
	var mu sync.Mutex
	out, errOut = lockedWriter{&mu, out}, lockedWriter{&mu, errOut}
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentPulls)
	for _, ref := range refs {
		g.Go(func() error {
			entry, _, err := im.obtain(ctx, ref, errOut)
			if err != nil {
				return err
			}
			log.Debugf("pulled %s to %s", ref, entry.ArtifactPath)
			if !config.GetQuiet() {
				fmt.Fprintf(out, "%s %s\n", entry.Reference, entry.Digest)
			}
			return nil
		})
	}
	return g.Wait()
}

// lockedWriter serializes writes from concurrent pulls
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw lockedWriter) Write(b []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(b)
}
