// Package cache is the filesystem image cache. Each image is stored as a single
// artifact file named by the cache key of its reference (see package pullrequest),
// next to a json metadata sidecar. The top-level function is LookupOrFetch, which
// returns a cached artifact or fetches it, with at most one fetch per key in flight
// across goroutines and across processes sharing the cache directory.
package cache
