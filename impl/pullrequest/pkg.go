// Package pullrequest parses image locators like 'ubuntu:14.04',
// 'quay.io/ucsc_cgl/samtools' or 'localhost:5000/foo@sha256:...' into their
// components, renders them back in fully-qualified or familiar form, and derives
// the cache key that identifies the image in the local cache.
package pullrequest
