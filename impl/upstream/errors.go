package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/pullrequest"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	errs "github.com/jmgilman/go/errors"
)

// notFoundCodes are the registry API error codes that mean the image does not
// exist, or exists but the caller may not see it
var notFoundCodes = map[transport.ErrorCode]bool{
	transport.ManifestUnknownErrorCode: true,
	transport.NameUnknownErrorCode:     true,
	transport.BlobUnknownErrorCode:     true,
	transport.UnauthorizedErrorCode:    true,
	transport.DeniedErrorCode:          true,
	"NOT_FOUND":                        true,
}

// mapError converts an error from talking to the upstream into one of the
// dxerr codes, naming the reference. 'fallback' is the code used when the error
// is neither a registry error nor a network error.
func mapError(err error, pr pullrequest.PullRequest, fallback errs.ErrorCode) error {
	if err == nil {
		return nil
	}
	ref := pr.Familiar()
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch {
		case terr.StatusCode == http.StatusNotFound,
			terr.StatusCode == http.StatusUnauthorized,
			terr.StatusCode == http.StatusForbidden:
			return dxerr.Wrap(err, dxerr.ImageNotFound, "image %s not found", ref)
		case terr.StatusCode >= http.StatusInternalServerError:
			return dxerr.Wrap(err, dxerr.RegistryUnreachable, "registry %s failed serving %s", pr.Remote, ref)
		}
		for _, d := range terr.Errors {
			if notFoundCodes[d.Code] {
				return dxerr.Wrap(err, dxerr.ImageNotFound, "image %s not found", ref)
			}
		}
		return dxerr.Wrap(err, fallback, "registry %s rejected request for %s", pr.Remote, ref)
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dxerr.Wrap(err, dxerr.RegistryUnreachable, "registry %s unreachable fetching %s", pr.Remote, ref)
	}
	return dxerr.Wrap(err, fallback, "unable to fetch %s", ref)
}
