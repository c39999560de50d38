package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestToProvider(t *testing.T) {
	tests := []struct {
		name        string
		providerStr string
		want        provider
		wantErr     bool
	}{
		{
			name:        "ecr lowercase",
			providerStr: "ecr",
			want:        ecrProvider,
		},
		{
			name:        "ecr uppercase",
			providerStr: "ECR",
			want:        ecrProvider,
		},
		{
			name:        "unknown provider",
			providerStr: "gcr",
			want:        unknownProvider,
			wantErr:     true,
		},
		{
			name:        "empty",
			providerStr: "",
			want:        unknownProvider,
			wantErr:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toProvider(tt.providerStr)
			if (err != nil) != tt.wantErr {
				t.Errorf("toProvider() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("toProvider() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseECROptions(t *testing.T) {
	tests := []struct {
		name    string
		options string
		wantLen int
		wantIds int
		wantErr bool
	}{
		{name: "empty", options: "", wantLen: 0},
		{name: "region", options: "region=us-east-1", wantLen: 1},
		{name: "region and profile", options: "region=US-EAST-1, profile=dev", wantLen: 2},
		{name: "registry ids", options: "registry=111111111111,registry=222222222222", wantIds: 2},
		{name: "missing value", options: "region", wantErr: true},
		{name: "empty value", options: "profile=", wantErr: true},
		{name: "unknown key", options: "zone=a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseECROptions(tt.options)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseECROptions() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && (len(opts.load) != tt.wantLen || len(opts.registryIds) != tt.wantIds) {
				t.Errorf("parseECROptions() returned %+v, want %d load options and %d ids", opts, tt.wantLen, tt.wantIds)
			}
		})
	}
}

// withGetter swaps the ECR token getter for the duration of a test
func withGetter(t *testing.T, g tokenGetter) {
	orig := getters[ecrProvider]
	getters[ecrProvider] = g
	reset()
	t.Cleanup(func() {
		getters[ecrProvider] = orig
		reset()
	})
}

func TestAuthenticator(t *testing.T) {
	calls := 0
	withGetter(t, func(_ context.Context, opts string) (string, error) {
		calls++
		return "dXNlcjpwYXNz", nil
	})
	a, err := Authenticator(context.Background(), "ecr", "region=us-east-1", "")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := a.Authorization()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth != "dXNlcjpwYXNz" {
		t.Errorf("got auth %q", cfg.Auth)
	}
	// same provider and options share the token
	if _, err := Authenticator(context.Background(), "ECR", "region=us-east-1", ""); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected one token get, got %d", calls)
	}
}

func TestAuthenticatorErrors(t *testing.T) {
	withGetter(t, func(context.Context, string) (string, error) {
		return "", fmt.Errorf("no credentials")
	})
	tests := []struct {
		name        string
		providerStr string
		expiry      string
		errContains string
	}{
		{name: "unknown provider", providerStr: "foo", expiry: "5m", errContains: "unknown provider"},
		{name: "bad expiry", providerStr: "ecr", expiry: "soon", errContains: "duration"},
		{name: "getter fails", providerStr: "ecr", expiry: "5m", errContains: "no credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Authenticator(context.Background(), tt.providerStr, "", tt.expiry)
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Authenticator() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
	if len(tokenProviders) != 0 {
		t.Errorf("failed providers should not be retained")
	}
}

func TestTokenRefresh(t *testing.T) {
	calls := 0
	tp := &tokenProvider{
		providerStr: "ecr",
		getter: func(context.Context, string) (string, error) {
			calls++
			return fmt.Sprintf("token-%d", calls), nil
		},
		expiry: 50 * time.Millisecond,
	}
	first, _ := tp.get(context.Background())
	again, _ := tp.get(context.Background())
	if first != again {
		t.Errorf("token refreshed before expiry")
	}
	time.Sleep(60 * time.Millisecond)
	refreshed, _ := tp.get(context.Background())
	if refreshed == first {
		t.Errorf("token not refreshed after expiry")
	}
}

func TestTokenProviderConcurrency(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	tp := &tokenProvider{
		providerStr: "ecr",
		getter: func(context.Context, string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return "token", nil
		},
		expiry: time.Hour,
	}
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := (&tokenAuthenticator{tp: tp}).Authorization(); err != nil || tok.Auth != "token" {
				t.Errorf("unexpected result %v %v", tok, err)
			}
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Errorf("expected one token get, got %d", calls)
	}
}
