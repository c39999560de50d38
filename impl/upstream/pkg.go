// Package upstream talks to the upstream registries, gets manifests and blobs,
// and writes an image as a single docker-archive tarball. The Google Crane code
// does the actual interaction with the upstreams:
//
//	https://github.com/google/go-containerregistry/blob/main/cmd/crane/doc/crane.md
//
// Concurrent requests for the same image are coalesced by the cache, not here:
// a Fetcher simply does one fetch each time it is called.
package upstream
