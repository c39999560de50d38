package pullrequest

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"net/url"
	"regexp"
	"strings"

	"github.com/aceeric/dxdocker/impl/dxerr"

	"github.com/opencontainers/go-digest"
)

// PullType allows to differentiate a pull by tag vs. digest.
type PullType int

const (
	ByTag PullType = iota
	ByDigest
)

const (
	// DefaultRemote is assumed when the image locator does not start with a registry host
	DefaultRemote = "docker.io"
	// DefaultTag is assumed when the image locator has neither a tag nor a digest
	DefaultTag = "latest"
	// officialNs qualifies single-segment repositories on the default registry
	officialNs = "library"
)

var (
	// aliases for the default registry
	dockerAliases = map[string]bool{
		"docker.io":            true,
		"index.docker.io":      true,
		"registry-1.docker.io": true,
	}
	pathComponent = regexp.MustCompile(`^[a-z0-9]+(?:(?:[._]|__|-+)[a-z0-9]+)*$`)
	tagRe         = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)
	hostRe        = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?(:[0-9]+)?$`)
)

// PullRequest has the individual components of an image reference. If initialized with
// 'quay.io/argoproj/argocd:v2.11.11' then the struct members are like so:
//
//	PullType   = ByTag
//	Remote     = quay.io
//	Repository = argoproj/argocd
//	Reference  = v2.11.11
//
// If initialized with 'ubuntu' then Remote is 'docker.io', Repository is 'library/ubuntu'
// and Reference is 'latest'. A digest Reference is kept as 'algorithm:hex'.
type PullRequest struct {
	PullType   PullType
	Remote     string
	Repository string
	Reference  string
}

// Parse parses the passed image locator with grammar:
//
//	[registry-host[:port]/]repository-path(:tag | @digest)?
//
// The leading path segment is a registry host if it contains a dot or a colon, or is
// 'localhost'. Otherwise the default registry is assumed. Errors are coded
// MalformedReference, or UnsupportedDigestAlgorithm for a digest whose algorithm
// is not known.
func Parse(locator string) (PullRequest, error) {
	if locator == "" || strings.TrimSpace(locator) != locator {
		return PullRequest{}, dxerr.New(dxerr.MalformedReference, "invalid image reference %q", locator)
	}
	pr := PullRequest{PullType: ByTag, Reference: DefaultTag}
	remainder := locator
	if at := strings.LastIndex(remainder, "@"); at != -1 {
		dgst := remainder[at+1:]
		if err := validateDigest(locator, dgst); err != nil {
			return PullRequest{}, err
		}
		pr.PullType = ByDigest
		pr.Reference = dgst
		remainder = remainder[:at]
	}
	segments := strings.Split(remainder, "/")
	last := segments[len(segments)-1]
	if colon := strings.LastIndex(last, ":"); colon != -1 {
		if pr.PullType == ByDigest {
			return PullRequest{}, dxerr.New(dxerr.MalformedReference, "image reference %q has both a tag and a digest", locator)
		}
		tag := last[colon+1:]
		if !tagRe.MatchString(tag) {
			return PullRequest{}, dxerr.New(dxerr.MalformedReference, "invalid tag %q in image reference %q", tag, locator)
		}
		pr.Reference = tag
		segments[len(segments)-1] = last[:colon]
	}
	pr.Remote = DefaultRemote
	if len(segments) > 1 && isRemote(segments[0]) {
		if !hostRe.MatchString(segments[0]) {
			return PullRequest{}, dxerr.New(dxerr.MalformedReference, "invalid registry host %q in image reference %q", segments[0], locator)
		}
		pr.Remote = NormalizeRemote(segments[0])
		segments = segments[1:]
	}
	for _, segment := range segments {
		if !pathComponent.MatchString(segment) {
			return PullRequest{}, dxerr.New(dxerr.MalformedReference, "invalid repository path in image reference %q", locator)
		}
	}
	if pr.Remote == DefaultRemote && len(segments) == 1 {
		segments = []string{officialNs, segments[0]}
	}
	pr.Repository = strings.Join(segments, "/")
	return pr, nil
}

// NormalizeRemote lower-cases a registry host and maps the aliases of the default
// registry to DefaultRemote.
func NormalizeRemote(host string) string {
	host = strings.ToLower(host)
	if dockerAliases[host] {
		return DefaultRemote
	}
	return host
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(locator string) PullRequest {
	pr, err := Parse(locator)
	if err != nil {
		panic(err)
	}
	return pr
}

// isRemote implements the registry host disambiguation rule
func isRemote(segment string) bool {
	return strings.ContainsAny(segment, ".:") || segment == "localhost"
}

// validateDigest checks that 'dgst' is 'algorithm:hex' with a known algorithm and
// the right encoded length for that algorithm.
func validateDigest(locator, dgst string) error {
	err := digest.Digest(dgst).Validate()
	switch err {
	case nil:
		return nil
	case digest.ErrDigestUnsupported:
		return dxerr.Wrap(err, dxerr.UnsupportedDigestAlgorithm, "unsupported digest algorithm in image reference %q", locator)
	default:
		return dxerr.Wrap(err, dxerr.MalformedReference, "invalid digest in image reference %q", locator)
	}
}

// Url formats the instance as a fully-qualified image reference like
// 'docker.io/library/ubuntu:14.04' or 'quay.io/ucsc_cgl/samtools@sha256:...'
func (pr PullRequest) Url() string {
	return pr.Remote + "/" + pr.Repository + pr.separator() + pr.Reference
}

// Familiar formats the instance as the shortest equivalent reference: the default
// registry, the 'library' namespace and the implicit 'latest' tag are omitted. So
// 'docker.io/library/ubuntu:latest' becomes 'ubuntu'. The 'library' namespace is only
// omitted for single-segment names since 'library/foo/bar' and 'foo/bar' differ.
func (pr PullRequest) Familiar() string {
	repo := pr.Repository
	if pr.Remote != DefaultRemote || isRemote(strings.Split(repo, "/")[0]) {
		repo = pr.Remote + "/" + repo
	} else if name, ok := strings.CutPrefix(repo, officialNs+"/"); ok && !strings.Contains(name, "/") {
		repo = name
	}
	if pr.PullType == ByTag && pr.Reference == DefaultTag {
		return repo
	}
	return repo + pr.separator() + pr.Reference
}

// String implements fmt.Stringer
func (pr PullRequest) String() string {
	return pr.Familiar()
}

// Key returns the cache key for the instance: the familiar form with ':', '/' and
// '@' percent-escaped so it can be used as a file name. Equivalent references
// produce the same key, distinct references produce distinct keys.
func (pr PullRequest) Key() string {
	return url.QueryEscape(pr.Familiar())
}

// KeyToFamiliar reverses Key.
func KeyToFamiliar(key string) (string, error) {
	return url.QueryUnescape(key)
}

// Tag returns the tag, or the empty string for a pull by digest.
func (pr PullRequest) Tag() string {
	if pr.PullType == ByTag {
		return pr.Reference
	}
	return ""
}

// Digest returns the digest, or the empty string for a pull by tag.
func (pr PullRequest) Digest() digest.Digest {
	if pr.PullType == ByDigest {
		return digest.Digest(pr.Reference)
	}
	return ""
}

// UrlWithDigest is like Url except it overrides the ref in the receiver with the passed digest
func (pr PullRequest) UrlWithDigest(dgst string) string {
	return pr.Remote + "/" + pr.Repository + "@" + dgst
}

// IsLatest returns true if the ref in the receiver has tag "latest"
func (pr PullRequest) IsLatest() bool {
	return pr.PullType == ByTag && pr.Reference == DefaultTag
}

func (pr PullRequest) separator() string {
	if pr.PullType == ByDigest {
		return "@"
	}
	return ":"
}
