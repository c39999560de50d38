package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	log "github.com/sirupsen/logrus"
)

// provider formalizes the supported providers.
type provider int

// tokenGetter is a function that returns a token and an error. The token must be
// base64 of 'user:password', which is what ECR returns.
type tokenGetter func(context.Context, string) (string, error)

// Defined providers
const (
	unknownProvider provider = iota
	ecrProvider
)

// providers converts a string to the typed provider.
var providers = map[string]provider{
	"ecr": ecrProvider,
}

// providerTostr converts typed provider to string.
var providerTostr = map[provider]string{
	ecrProvider: "ecr",
}

// getters can be replaced by tests
var getters = map[provider]tokenGetter{
	ecrProvider: getECRToken,
}

// tokenProvider has all the configuration to support token refresh.
type tokenProvider struct {
	// allows concurrent pulls to share the provider
	sync.Mutex
	// for error logging.
	providerStr string
	// provider options like foo=bar,bin=baz
	providerOpts string
	// the function that gets the token.
	getter tokenGetter
	// the last time the token was retrieved.
	lastTokenGet time.Time
	// token returned by the token getter function.
	token string
	// token refresh period.
	expiry time.Duration
}

var (
	mu sync.Mutex
	// tokenProviders has every token provider initialized by a call to the
	// Authenticator function, keyed by provider and options.
	tokenProviders = make(map[string]*tokenProvider)
)

// Authenticator returns a go-containerregistry authenticator backed by the passed
// provider (like "ecr".) The first call for a provider and options combination gets
// a token to verify that a token can actually be gotten (to support fail early.) The
// token is refreshed on use once it is older than 'expiry'. If expiry is empty then
// 12 hours is the default.
func Authenticator(ctx context.Context, providerStr string, options string, expiry string) (authn.Authenticator, error) {
	p, err := toProvider(providerStr)
	if err != nil {
		return nil, err
	}
	if expiry == "" {
		expiry = "12h"
	}
	parsedExpiry, err := time.ParseDuration(expiry)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	key := providerTostr[p] + "|" + options
	tp, ok := tokenProviders[key]
	if !ok {
		tp = &tokenProvider{
			providerStr:  providerTostr[p],
			providerOpts: options,
			getter:       getters[p],
			expiry:       parsedExpiry,
		}
		if _, err := tp.get(ctx); err != nil {
			return nil, err
		}
		tokenProviders[key] = tp
	}
	return &tokenAuthenticator{tp: tp}, nil
}

// get returns the current token, calling the token getter if there is no token
// or the token is older than the expiry.
func (tp *tokenProvider) get(ctx context.Context) (string, error) {
	tp.Lock()
	defer tp.Unlock()
	if tp.token != "" && time.Since(tp.lastTokenGet) < tp.expiry {
		return tp.token, nil
	}
	log.Debugf("getting new token for provider %q", tp.providerStr)
	token, err := tp.getter(ctx, tp.providerOpts)
	if err != nil {
		return "", fmt.Errorf("error getting token for provider %q: %w", tp.providerStr, err)
	}
	tp.token = token
	tp.lastTokenGet = time.Now()
	return token, nil
}

// tokenAuthenticator implements authn.Authenticator
type tokenAuthenticator struct {
	tp *tokenProvider
}

// Authorization returns the provider token as a registry 'auth' value
func (ta *tokenAuthenticator) Authorization() (*authn.AuthConfig, error) {
	token, err := ta.tp.get(context.Background())
	if err != nil {
		return nil, err
	}
	return &authn.AuthConfig{Auth: token}, nil
}

// toProvider validates the passed provider string (like "ECR") and returns the matching
// provider type values.
func toProvider(providerStr string) (provider, error) {
	p, ok := providers[strings.ToLower(providerStr)]
	if !ok {
		return unknownProvider, fmt.Errorf("unknown provider: %s", providerStr)
	}
	return p, nil
}

// reset supports unit testing
func reset() {
	mu.Lock()
	defer mu.Unlock()
	tokenProviders = make(map[string]*tokenProvider)
}
