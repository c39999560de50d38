package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aceeric/dxdocker/cmd/subcmd"
	"github.com/aceeric/dxdocker/impl/config"
	"github.com/aceeric/dxdocker/impl/dxerr"
	"github.com/aceeric/dxdocker/impl/globals"
	"github.com/aceeric/dxdocker/impl/metrics"

	log "github.com/sirupsen/logrus"
)

// set by the build
var (
	buildVer string
	buildDtm string
)

func main() {
	os.Exit(realMain(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// realMain runs the command on the passed command line and returns the process
// exit code.
func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	command, err := getCfg(args)
	if err != nil {
		fmt.Fprintf(stderr, "error parsing configuration: %s\n", err)
		return 1
	}
	if err := globals.ConfigureLogging(config.GetLogLevel(), config.GetLogFile()); err != nil {
		fmt.Fprintf(stderr, "error configuring logging: %s\n", err)
		return 1
	}
	metrics.InitMetrics(config.GetMetricsFile())
	defer metrics.WriteMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debugf("running %q with cache %s", command, config.GetCacheDir())
	switch command {
	case "pull":
		err = subcmd.Pull(ctx, stdout, stderr)
	case "run":
		var code int
		code, err = subcmd.Run(ctx, subcmd.Streams{In: stdin, Out: stdout, Err: stderr})
		report(stderr, err)
		return code
	case "add-to-applet":
		err = subcmd.AddToApplet(ctx, stdout, stderr)
	case "create-asset":
		err = subcmd.CreateAsset(ctx, stdout, stderr)
	case "list":
		err = subcmd.ListCache(stdout)
	case "clear":
		err = subcmd.Clear(stdout)
	case "version":
		fmt.Fprintf(stdout, "dx-docker version: %s build date: %s\n", buildVer, buildDtm)
	default:
		// no command: the parser displayed help
	}
	if err != nil {
		report(stderr, err)
		return 1
	}
	return 0
}

// report shows 'err' unless it is nil or was already shown
func report(w io.Writer, err error) {
	if err == nil || subcmd.IsReported(err) {
		return
	}
	if code := dxerr.Code(err); code != "" {
		fmt.Fprintf(w, "%s: %s\n", code, dxerr.Message(err))
		return
	}
	fmt.Fprintln(w, err)
}
