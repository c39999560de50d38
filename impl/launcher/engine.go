package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
)

const (
	// Proot runs the command with proot, which needs no privileges
	Proot = "proot"
	// Podman runs the command with 'podman run --rootfs'
	Podman = "podman"
	// DefaultEngine is used when no engine is configured
	DefaultEngine = Proot
)

// ExecCommandFunc creates the command an engine runs. Tests replace it
// to capture the command line.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// Invocation is everything an engine needs to run one command in an
// execution root.
type Invocation struct {
	Root    string
	Volumes []VolumeMount
	WorkDir string
	Command []string
	Env     []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// Engine runs a command inside an execution root and returns the exit code of
// the command. A non-nil error means the command could not be run at all.
type Engine interface {
	Name() string
	Run(ctx context.Context, inv Invocation) (int, error)
}

// NewEngine returns the named engine. If 'execCommand' is nil the engine runs
// the real binary.
func NewEngine(name string, execCommand ExecCommandFunc) (Engine, error) {
	if execCommand == nil {
		execCommand = exec.CommandContext
	}
	switch name {
	case "", Proot:
		return &cliEngine{name: Proot, binary: Proot, execCommand: execCommand, args: prootArgs, passEnv: true}, nil
	case Podman:
		return &cliEngine{name: Podman, binary: Podman, execCommand: execCommand, args: podmanArgs}, nil
	}
	return nil, fmt.Errorf("unsupported engine %q, expected %s or %s", name, Proot, Podman)
}

// IsValidEngine returns true if 'name' is an engine that NewEngine supports
func IsValidEngine(name string) bool {
	return name == Proot || name == Podman
}

// cliEngine runs an external binary with arguments built from an Invocation
type cliEngine struct {
	name        string
	binary      string
	execCommand ExecCommandFunc
	args        func(inv Invocation) []string
	// passEnv sets the environment of the engine process to the container
	// environment, for engines that have the child inherit it
	passEnv bool
}

func (e *cliEngine) Name() string {
	return e.name
}

// Run runs the engine binary and waits for it. The exit code of the binary is
// returned verbatim, or 128+signal if a signal killed it. If the binary could not
// be started the exit code is 1.
func (e *cliEngine) Run(ctx context.Context, inv Invocation) (int, error) {
	args := e.args(inv)
	log.Debugf("%s %s", e.binary, strings.Join(args, " "))
	cmd := e.execCommand(ctx, e.binary, args...)
	cmd.Stdin = inv.Stdin
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	if e.passEnv {
		cmd.Env = append(cmd.Env, inv.Env...)
	}
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitCode(exitErr), nil
	}
	return 1, fmt.Errorf("unable to run %s: %w", e.binary, err)
}

// exitCode follows the shell convention for a child killed by a signal since
// ExitCode is -1 in that case
func exitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	return 1
}

// prootArgs builds 'proot -r root -b /dev -b /proc -b /sys -b host:ctr... -w dir cmd...'
func prootArgs(inv Invocation) []string {
	args := []string{"-r", inv.Root}
	for _, sys := range []string{"/dev", "/proc", "/sys"} {
		args = append(args, "-b", sys)
	}
	for _, v := range inv.Volumes {
		args = append(args, "-b", v.String())
	}
	args = append(args, "-w", inv.WorkDir)
	return append(args, inv.Command...)
}

// podmanArgs builds 'podman run --rm -i --rootfs -v host:ctr... -w dir -e K=V... root cmd...'.
// The --rm removes the podman container, not the execution root.
func podmanArgs(inv Invocation) []string {
	args := []string{"run", "--rm", "-i", "--rootfs"}
	for _, v := range inv.Volumes {
		args = append(args, "-v", v.String())
	}
	args = append(args, "-w", inv.WorkDir)
	for _, env := range inv.Env {
		args = append(args, "-e", env)
	}
	args = append(args, inv.Root)
	return append(args, inv.Command...)
}
