// Package mock runs fakes of the remote services that dx-docker talks to. The
// registry is the go-containerregistry in-memory OCI distribution server with
// optional basic auth, TLS and slow responses. Images pushed to it are built
// here from random layers or from literal file contents. The platform server
// fakes the folder/file API of the remote object store that assets are
// uploaded to.
package mock
