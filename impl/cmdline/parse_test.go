package cmdline

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/aceeric/dxdocker/impl/globals"
)

// Test that the parser detects when defaults are overridden on the command line
func TestParseGlobals(t *testing.T) {
	td := t.TempDir()
	afile := filepath.Join(td, "foo")
	os.WriteFile(afile, []byte("foo"), 0644)

	args := []string{"bin/dx-docker", "--cache-dir", td, "--log-level", "info", "--config-file", afile, "--log-file", "x.log", "--metrics-file", "m.prom", "version"}
	fromCmdline, cfg, err := Parse(args)
	if err != nil {
		t.Fatal(err)
	}
	switch {
	case fromCmdline.Command != "version":
		t.Fail()
	case !fromCmdline.LogLevel || cfg.LogLevel != "info":
		t.Fail()
	case !fromCmdline.ConfigFile || cfg.ConfigFile != afile:
		t.Fail()
	case !fromCmdline.CacheDir || cfg.CacheDir != td:
		t.Fail()
	case !fromCmdline.LogFile || !fromCmdline.MetricsFile:
		t.Fail()
	}
}

func TestParseDefaults(t *testing.T) {
	fromCmdline, cfg, err := Parse([]string{"bin/dx-docker", "pull", "busybox"})
	if err != nil {
		t.Fatal(err)
	}
	if fromCmdline.CacheDir || fromCmdline.LogLevel || fromCmdline.Os || fromCmdline.Arch {
		t.Errorf("expected no overrides, got %+v", fromCmdline)
	}
	if cfg.CacheDir != globals.DefaultCacheDir || cfg.LogLevel != "error" || cfg.Os != "linux" || cfg.Arch != "amd64" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"bin/dx-docker", "--log-level", "loud", "version"},
		{"bin/dx-docker", "--config-file", "/does/not/exist", "version"},
		{"bin/dx-docker", "pull"},
		{"bin/dx-docker", "run"},
		{"bin/dx-docker", "run", "--engine", "docker", "busybox"},
		{"bin/dx-docker", "run", "-v", "/tmp", "busybox"},
		{"bin/dx-docker", "run", "-e", "=x", "busybox"},
		{"bin/dx-docker", "add-to-applet", "busybox"},
		{"bin/dx-docker", "create-asset"},
		{"bin/dx-docker", "clear", "--pattern", "x", "--date", "2025-02-28T12:59:59"},
	} {
		if _, _, err := Parse(args); err == nil {
			t.Errorf("expected an error for %v", args[1:])
		}
	}
}

func TestParsePull(t *testing.T) {
	fromCmdline, cfg, err := Parse([]string{"bin/dx-docker", "pull", "-q", "ubuntu:14.04", "--os", "linux", "--arch", "arm64", "quay.io/ucsc_cgl/samtools"})
	if err != nil {
		t.Fatal(err)
	}
	if fromCmdline.Command != "pull" || !cfg.Quiet || !fromCmdline.Arch || cfg.Arch != "arm64" {
		t.Errorf("unexpected parse %+v %+v", fromCmdline, cfg)
	}
	if !slices.Equal(cfg.Refs, []string{"ubuntu:14.04", "quay.io/ucsc_cgl/samtools"}) {
		t.Errorf("unexpected refs %v", cfg.Refs)
	}
}

func TestParseRun(t *testing.T) {
	for _, tc := range []struct {
		args    []string
		ref     string
		command []string
	}{
		{[]string{"run", "busybox"}, "busybox", []string{}},
		{[]string{"run", "busybox", "ls", "-l", "/"}, "busybox", []string{"ls", "-l", "/"}},
		{[]string{"run", "busybox", "--", "ls", "-l"}, "busybox", []string{"ls", "-l"}},
		{[]string{"run", "--", "busybox", "false"}, "busybox", []string{"false"}},
		{[]string{"run", "-v", "/tmp:/data", "-w", "/data", "--rm", "busybox", "cat", "-n", "x"}, "busybox", []string{"cat", "-n", "x"}},
		{[]string{"run", "--rm", "busybox", "cat", "-n", "x"}, "busybox", []string{"cat", "-n", "x"}},
		{[]string{"run", "-w", "/data", "busybox", "ls", "-l"}, "busybox", []string{"ls", "-l"}},
		{[]string{"run", "-q", "busybox", "ls", "-l", "--rm"}, "busybox", []string{"ls", "-l", "--rm"}},
		{[]string{"run", "--rm", "--", "busybox", "sh", "-c", "exit 2"}, "busybox", []string{"sh", "-c", "exit 2"}},
		{[]string{"run", "--engine=podman", "busybox", "-v"}, "busybox", []string{"-v"}},
	} {
		fromCmdline, cfg, err := Parse(append([]string{"bin/dx-docker"}, tc.args...))
		if err != nil {
			t.Errorf("%v: %v", tc.args, err)
			continue
		}
		if fromCmdline.Command != "run" || !slices.Equal(cfg.Refs, []string{tc.ref}) {
			t.Errorf("%v: unexpected parse %+v", tc.args, cfg)
		}
		if !slices.Equal(cfg.RunConfig.Command, tc.command) {
			t.Errorf("%v: expected command %v, got %v", tc.args, tc.command, cfg.RunConfig.Command)
		}
	}
}

func TestParseRunFlags(t *testing.T) {
	args := []string{"bin/dx-docker", "--log-level", "debug", "run", "-v", "/tmp:/data", "--volume", "/etc/hosts:/etc/hosts", "-w", "/data",
		"--rm", "-q", "-e", "FOO=bar", "-e", "LIST=a,b", "--engine", "podman", "busybox", "sh", "-c", "echo hi"}
	fromCmdline, cfg, err := Parse(args)
	if err != nil {
		t.Fatal(err)
	}
	rc := cfg.RunConfig
	switch {
	case !slices.Equal(rc.Volumes, []string{"/tmp:/data", "/etc/hosts:/etc/hosts"}):
		t.Errorf("volumes %v", rc.Volumes)
	case rc.WorkDir != "/data" || !rc.Remove || !cfg.Quiet:
		t.Errorf("unexpected run config %+v", rc)
	case !slices.Equal(rc.Env, []string{"FOO=bar", "LIST=a,b"}):
		t.Errorf("env %v", rc.Env)
	case !fromCmdline.Engine || cfg.Engine != "podman":
		t.Errorf("engine %s", cfg.Engine)
	case !slices.Equal(rc.Command, []string{"sh", "-c", "echo hi"}):
		t.Errorf("command %v", rc.Command)
	}
}

func TestParseAssets(t *testing.T) {
	fromCmdline, cfg, err := Parse([]string{"bin/dx-docker", "add-to-applet", "-q", "ubuntu:14.04", "/tmp/applet"})
	if err != nil || fromCmdline.Command != "add-to-applet" || cfg.AssetConfig.AppletDir != "/tmp/applet" || cfg.Refs[0] != "ubuntu:14.04" {
		t.Errorf("unexpected parse %+v %v", cfg, err)
	}
	fromCmdline, cfg, err = Parse([]string{"bin/dx-docker", "create-asset", "-o", "/assets", "--project", "project-xyz", "--name", "sam", "quay.io/ucsc_cgl/samtools"})
	if err != nil {
		t.Fatal(err)
	}
	if fromCmdline.Command != "create-asset" || !fromCmdline.Folder || !fromCmdline.Project {
		t.Errorf("unexpected parse %+v", fromCmdline)
	}
	if cfg.AssetConfig.Folder != "/assets" || cfg.Platform.Project != "project-xyz" || cfg.AssetConfig.Name != "sam" {
		t.Errorf("unexpected parse %+v", cfg)
	}
}

func TestParseListAndClear(t *testing.T) {
	fromCmdline, cfg, err := Parse([]string{"bin/dx-docker", "list", "--header", "--pattern", "ubuntu,samtools"})
	if err != nil || fromCmdline.Command != "list" || !fromCmdline.ListConfig || !cfg.ListConfig.Header || cfg.ListConfig.Expr != "ubuntu,samtools" {
		t.Errorf("unexpected parse %+v %v", cfg.ListConfig, err)
	}

	fromCmdline, cfg, err = Parse([]string{"bin/dx-docker", "clear", "--pattern", "frobozz", "--dry-run"})
	if err != nil || fromCmdline.Command != "clear" || !fromCmdline.ClearConfig || !cfg.ClearConfig.DryRun ||
		cfg.ClearConfig.Expr != "frobozz" || cfg.ClearConfig.Type != "pattern" {
		t.Errorf("unexpected parse %+v %v", cfg.ClearConfig, err)
	}

	fromCmdline, cfg, err = Parse([]string{"bin/dx-docker", "clear", "--date", "2025-02-28T12:59:59"})
	if err != nil || !fromCmdline.ClearConfig || cfg.ClearConfig.DryRun ||
		cfg.ClearConfig.Expr != "2025-02-28T12:59:59" || cfg.ClearConfig.Type != "date" {
		t.Errorf("unexpected parse %+v %v", cfg.ClearConfig, err)
	}

	fromCmdline, cfg, err = Parse([]string{"bin/dx-docker", "clear"})
	if err != nil || fromCmdline.ClearConfig || cfg.ClearConfig.Type != "" {
		t.Errorf("unexpected parse %+v %v", cfg.ClearConfig, err)
	}
}

func TestSplitRunCommand(t *testing.T) {
	for _, tc := range []struct {
		in      []string
		args    []string
		command []string
	}{
		{[]string{"x", "run", "busybox", "ls", "-l"}, []string{"x", "run", "busybox"}, []string{"ls", "-l"}},
		{[]string{"x", "--log-file", "run", "run", "-v", "a:b", "--rm", "busybox"}, []string{"x", "--log-file", "run", "run", "-v", "a:b", "--rm", "busybox"}, []string{}},
		{[]string{"x", "run", "--engine=podman", "busybox", "-n"}, []string{"x", "run", "--engine=podman", "busybox"}, []string{"-n"}},
		{[]string{"x", "run", "--rm", "--", "busybox", "cat", "-n"}, []string{"x", "run", "--rm", "--", "busybox"}, []string{"cat", "-n"}},
		{[]string{"x", "run", "--rm"}, []string{"x", "run", "--rm"}, nil},
		{[]string{"x", "pull", "-q", "busybox", "ubuntu"}, []string{"x", "pull", "-q", "busybox", "ubuntu"}, nil},
	} {
		args, command := splitRunCommand(tc.in)
		if !slices.Equal(args, tc.args) || !slices.Equal(command, tc.command) {
			t.Errorf("%v: expected %v %v, got %v %v", tc.in, tc.args, tc.command, args, command)
		}
	}
}

func TestParseRunSliceFlags(t *testing.T) {
	_, cfg, err := Parse([]string{"bin/dx-docker", "run", "-e", "LIST=a,b", "-v", "/tmp/a,b:/data", "busybox", "true"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(cfg.RunConfig.Env, []string{"LIST=a,b"}) || !slices.Equal(cfg.RunConfig.Volumes, []string{"/tmp/a,b:/data"}) {
		t.Errorf("expected comma values to stay whole, got %v %v", cfg.RunConfig.Env, cfg.RunConfig.Volumes)
	}
}

func TestParsePullImageFile(t *testing.T) {
	list := filepath.Join(t.TempDir(), "images")
	os.WriteFile(list, []byte("busybox\n"), 0644)
	fromCmdline, cfg, err := Parse([]string{"bin/dx-docker", "pull", "--image-file", list})
	if err != nil || fromCmdline.Command != "pull" || cfg.ImageFile != list || len(cfg.Refs) != 0 {
		t.Errorf("unexpected parse %+v %v", cfg, err)
	}
	if _, _, err := Parse([]string{"bin/dx-docker", "pull", "--image-file", list + ".missing"}); err == nil {
		t.Errorf("expected an error for a missing image file")
	}
}
