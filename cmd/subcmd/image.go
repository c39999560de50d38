package subcmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aceeric/dxdocker/impl/cache"
	"github.com/aceeric/dxdocker/impl/config"
	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/globals"
	"github.com/aceeric/dxdocker/impl/pullrequest"
	"github.com/aceeric/dxdocker/impl/upstream"
)

// images ties the cache to the fetcher for the configured cache dir and platform
type images struct {
	store   *cache.Store
	fetcher *upstream.Fetcher
}

func openImages() (*images, error) {
	store, err := cache.Open(config.GetCacheDir())
	if err != nil {
		return nil, fmt.Errorf("error opening the image cache: %w", err)
	}
	return &images{
		store:   store,
		fetcher: upstream.NewFetcher(store.BlobsDir(), config.GetOs(), config.GetArch()),
	}, nil
}

// obtain returns the cache entry for 'ref', pulling it if it is not cached. A
// failure is reported on 'errOut' regardless of quiet mode.
func (im *images) obtain(ctx context.Context, ref string, errOut io.Writer) (cache.Entry, pullrequest.PullRequest, error) {
	pr, err := pullrequest.Parse(ref)
	if err == nil {
		var entry cache.Entry
		if entry, err = im.store.LookupOrFetch(ctx, pr, im.fetcher.Fetch); err == nil {
			return entry, pr, nil
		}
	}
	fmt.Fprintf(errOut, "%s %s: %s\n", globals.FailedToObtain, ref, dxerr.Message(err))
	return cache.Entry{}, pr, Reported{err}
}

// Reported wraps an error that has already been shown to the user
type Reported struct {
	error
}

func (r Reported) Unwrap() error {
	return r.error
}

// IsReported returns true if 'err' has already been shown to the user
func IsReported(err error) bool {
	var r Reported
	return errors.As(err, &r)
}
