package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aceeric/dxdocker/impl/config"
)

var cfgYaml = `
---
cacheDir: /var/cache/dx-docker
logLevel: error
os: linux
arch: amd64
engine: podman
registries:
  - name: registry.one
    description: A description
  - name: registry.two
    description: Another description
    scheme: http
platform:
  apiServer: https://api.example.com
  token: abc123
  project: project-one
assetConfig:
  folder: /assets
`

// Test that the command line configuration is correctly merged into config from
// a file.
func TestCmdlineOverridesConfig(t *testing.T) {
	td := t.TempDir()
	cfgFile := filepath.Join(td, "testcfg.yaml")
	os.WriteFile(cfgFile, []byte(cfgYaml), 0600)
	args := []string{"bin/dx-docker", "--cache-dir", td, "--log-level", "info", "--config-file", cfgFile,
		"create-asset", "--project", "project-two", "--name", "sam", "quay.io/ucsc_cgl/samtools"}

	command, err := getCfg(args)
	if err != nil {
		t.Fatal(err)
	}
	switch {
	case command != "create-asset":
		t.Errorf("command %q", command)
	case config.GetLogLevel() != "info":
		t.Errorf("log level %q", config.GetLogLevel())
	case config.GetConfigFile() != cfgFile:
		t.Errorf("config file %q", config.GetConfigFile())
	case config.GetCacheDir() != td:
		t.Errorf("cache dir %q", config.GetCacheDir())
	case config.GetEngine() != "podman":
		t.Errorf("engine %q", config.GetEngine())
	case len(config.GetRegistries()) != 2:
		t.Errorf("registries %v", config.GetRegistries())
	case config.GetPlatform().Project != "project-two" || config.GetPlatform().Token != "abc123":
		t.Errorf("platform %+v", config.GetPlatform())
	case config.GetAssetConfig().Folder != "/assets" || config.GetAssetConfig().Name != "sam":
		t.Errorf("asset config %+v", config.GetAssetConfig())
	case len(config.GetRefs()) != 1 || config.GetRefs()[0] != "quay.io/ucsc_cgl/samtools":
		t.Errorf("refs %v", config.GetRefs())
	}
}

// Test that the file is used when the command line does not override it
func TestConfigFileDefaults(t *testing.T) {
	td := t.TempDir()
	cfgFile := filepath.Join(td, "testcfg.yaml")
	os.WriteFile(cfgFile, []byte(cfgYaml), 0600)

	command, err := getCfg([]string{"bin/dx-docker", "--config-file", cfgFile, "list"})
	if err != nil {
		t.Fatal(err)
	}
	if command != "list" || config.GetCacheDir() != "/var/cache/dx-docker" || config.GetEngine() != "podman" {
		t.Errorf("unexpected config %+v", config.Get())
	}
}

func TestNoConfigFile(t *testing.T) {
	command, err := getCfg([]string{"bin/dx-docker", "run", "--engine", "proot", "busybox", "true"})
	if err != nil {
		t.Fatal(err)
	}
	if command != "run" || config.GetCacheDir() != "/tmp/dx-docker-cache" || config.GetEngine() != "proot" || len(config.GetRegistries()) != 0 {
		t.Errorf("unexpected config %+v", config.Get())
	}
}
