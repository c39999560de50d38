package mock

import (
	"crypto/tls"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"time"

	"github.com/google/go-containerregistry/pkg/registry"
)

var re = regexp.MustCompile(`https://|http://`)

// MockParams supports different configurations for the mock OCI
// Distribution Server
type MockParams struct {
	Auth      AuthType
	Scheme    SchemeType
	TlsConfig *tls.Config
	CliAuth   tls.ClientAuthType
	DelayMs   int
	User      string
	Password  string
}

// SchemeType specifies http or https
type SchemeType string

const (
	HTTP  SchemeType = "http"
	HTTPS SchemeType = "https"
)

type AuthType string

const (
	BASIC AuthType = "basic auth"
	NONE  AuthType = "no auth"
)

// NewMockParams returns a 'MockParams' instance from the passed args. For BASIC auth
// the user and password are 'mock'/'mock'.
func NewMockParams(auth AuthType, scheme SchemeType) MockParams {
	return MockParams{
		Auth:     auth,
		Scheme:   scheme,
		User:     "mock",
		Password: "mock",
	}
}

// Server simply calls ServerWithCallback with no callback function
func Server(params MockParams) (*httptest.Server, string) {
	return ServerWithCallback(params, nil)
}

// ServerWithCallback runs the mock OCI distribution server. It returns a ref to the server, and a
// server url (without the scheme). If a callback function is passed, it is called with the method
// and path of each request the server receives.
func ServerWithCallback(params MockParams, callback func(method, path string)) (*httptest.Server, string) {
	handler := registry.New(registry.Logger(log.New(io.Discard, "", 0)))
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callback != nil {
			callback(r.Method, r.URL.Path)
		}
		// delayMs supports simulating slow links or large images
		if params.DelayMs != 0 {
			time.Sleep(time.Duration(params.DelayMs) * time.Millisecond)
		}
		if params.Auth == BASIC {
			user, pass, ok := r.BasicAuth()
			if !ok || user != params.User || pass != params.Password {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
				w.Header().Set("Www-Authenticate", `Basic realm="mock"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED","message":"authentication required","detail":null}]}`))
				return
			}
		}
		handler.ServeHTTP(w, r)
	}))
	if params.Scheme == HTTPS {
		server.TLS = params.TlsConfig
		if server.TLS != nil {
			server.TLS.ClientAuth = params.CliAuth
		}
		server.StartTLS()
	} else {
		server.Start()
	}
	return server, re.ReplaceAllString(server.URL, "")
}
