package config

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/aceeric/dxdocker/impl/auth"
	"github.com/aceeric/dxdocker/impl/pullrequest"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// RegistryOpts is the parsed form of a RegistryConfig: what the fetcher needs to
// talk to one upstream registry.
type RegistryOpts struct {
	// Insecure is true if the registry is accessed over plain http
	Insecure bool
	// Auth is nil for anonymous access
	Auth authn.Authenticator
	// TlsCfg is nil unless the config has a tls section
	TlsCfg *tls.Config
}

var (
	optsMu sync.Mutex
	// parsed holds RegistryOpts by registry name since the config might involve
	// loading certs or getting a token
	parsed = make(map[string]RegistryOpts)
)

// resetRegistryOpts discards parsed registry options whenever the configuration changes
func resetRegistryOpts() {
	optsMu.Lock()
	defer optsMu.Unlock()
	parsed = make(map[string]RegistryOpts)
}

// ConfigFor looks for a configuration entry keyed by the passed 'registry' arg (e.g.
// 'quay.io') and returns options for that registry from the config. Both names are
// normalized like image references, so an entry for 'index.docker.io' serves
// 'docker.io'. If no matching config
// is found, then anonymous https access with the OS trust store is returned.
//
// Once parsed, the options are saved for reuse so certs are loaded and tokens are
// initialized only once per process.
func ConfigFor(ctx context.Context, registry string) (RegistryOpts, error) {
	optsMu.Lock()
	defer optsMu.Unlock()

	registry = pullrequest.NormalizeRemote(registry)
	if opts, ok := parsed[registry]; ok {
		return opts, nil
	}

	found := RegistryConfig{}
	for _, reg := range config.Registries {
		if pullrequest.NormalizeRemote(reg.Name) == registry {
			found = reg
			break
		}
	}

	opts := RegistryOpts{}
	if found == (RegistryConfig{}) {
		return opts, nil
	}
	switch found.Scheme {
	case "", "https":
	case "http":
		opts.Insecure = true
	default:
		return opts, fmt.Errorf("unsupported scheme %q in config entry %s", found.Scheme, registry)
	}

	switch {
	case found.Auth.Provider != "":
		a, err := auth.Authenticator(ctx, found.Auth.Provider, found.Auth.ProviderOpts, found.Auth.Expiry)
		if err != nil {
			return opts, fmt.Errorf("unable to initialize token provider for config entry %s: %w", registry, err)
		}
		opts.Auth = a
	case found.Auth.User != "":
		password := found.Auth.Password
		if found.Auth.PasswordFromEnv != "" {
			password = os.Getenv(found.Auth.PasswordFromEnv)
		}
		opts.Auth = &authn.Basic{Username: found.Auth.User, Password: password}
	}

	if found.Tls != (tlsCfg{}) {
		var cp *x509.CertPool
		clientCerts := []tls.Certificate{}
		if found.Tls.CA != "" {
			cp = x509.NewCertPool()
			caCert, err := os.ReadFile(found.Tls.CA)
			if err != nil {
				return opts, fmt.Errorf("unable to load CA for config entry %s from file: %s", registry, found.Tls.CA)
			}
			cp.AppendCertsFromPEM(caCert)
		}
		if found.Tls.Cert != "" && found.Tls.Key != "" {
			cert, err := tls.LoadX509KeyPair(found.Tls.Cert, found.Tls.Key)
			if err != nil {
				return opts, fmt.Errorf("unable to load client cert and/or key for config entry %s from files: cert: %s, key: %s", registry, found.Tls.Cert, found.Tls.Key)
			}
			clientCerts = []tls.Certificate{cert}
		}
		opts.TlsCfg = &tls.Config{
			InsecureSkipVerify: found.Tls.InsecureSkipVerify,
			RootCAs:            cp,
			Certificates:       clientCerts,
		}
	}
	parsed[registry] = opts
	return opts, nil
}

// RemoteOptions converts the receiver into go-containerregistry remote options. The
// caller adds context and platform.
func (o RegistryOpts) RemoteOptions() []remote.Option {
	var ropts []remote.Option
	if o.Auth != nil {
		ropts = append(ropts, remote.WithAuth(o.Auth))
	}
	if o.TlsCfg != nil {
		t := remote.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = o.TlsCfg
		ropts = append(ropts, remote.WithTransport(t))
	}
	return ropts
}
