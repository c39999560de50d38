package cmdline

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/aceeric/dxdocker/impl/config"
	"github.com/aceeric/dxdocker/impl/globals"
	"github.com/aceeric/dxdocker/impl/launcher"
	"github.com/aceeric/dxdocker/impl/upstream"

	"github.com/urfave/cli/v3"
)

// terminator ends flag parsing. Everything after it is positional.
const terminator = "--"

// valueFlags are the flags that consume the following arg. They are needed to find
// where the run command's image reference ends.
var valueFlags = []string{
	"--log-level", "--log-file", "--config-file", "--cache-dir", "--metrics-file",
	"-v", "--volume", "-w", "--workdir", "-e", "--env", "--engine",
}

// parser holds the state that the flag actions populate during one parse
type parser struct {
	fromCmdline config.FromCmdLine
	cfg         config.Configuration
	// runCmdArgs is the container command split off the run args before parsing
	runCmdArgs []string
}

// newCommand builds the command tree. It is rebuilt for every parse because
// urfave/cli keeps parse state in the flags.
func (p *parser) newCommand() *cli.Command {
	root := p.rootCommand()
	// each command resets the slice separator setting when it runs
	for _, cmd := range root.Commands {
		cmd.DisableSliceFlagSeparator = true
	}
	return root
}

func (p *parser) rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "dx-docker",
		Usage: "pulls container images into a local cache and runs them without a docker daemon",
		// define this or the parser terminates the program
		ExitErrHandler:            func(_ context.Context, _ *cli.Command, _ error) {},
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "error",
				Usage:       "Sets the minimum value for logging: debug, warn, info, or error",
				Destination: &p.cfg.LogLevel,
				Validator:   validateLogLevel,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.LogLevel = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "log to the specified file rather than the console",
				Destination: &p.cfg.LogFile,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.LogFile = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "A file to load configuration values from (cmdline overrides file settings)",
				Destination: &p.cfg.ConfigFile,
				Validator:   validateFile,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.ConfigFile = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "cache-dir",
				Value:       globals.DefaultCacheDir,
				Usage:       "The directory holding the image cache",
				Destination: &p.cfg.CacheDir,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.CacheDir = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "metrics-file",
				Usage:       "Write metrics in Prometheus text format to this file on exit",
				Destination: &p.cfg.MetricsFile,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.MetricsFile = true
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			p.pullCommand(),
			p.runCommand(),
			p.addToAppletCommand(),
			p.createAssetCommand(),
			p.listCommand(),
			p.clearCommand(),
			{
				Name:  "version",
				Usage: "Displays the version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					p.fromCmdline.Command = "version"
					return nil
				},
			},
		},
	}
}

func (p *parser) quietFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:        "quiet",
		Aliases:     []string{"q"},
		Usage:       "Suppresses fetch output",
		Destination: &p.cfg.Quiet,
	}
}

func (p *parser) pullCommand() *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "Pulls one or more images into the cache",
		ArgsUsage: "<ref>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 && p.cfg.ImageFile == "" {
				return fmt.Errorf("pull requires at least one image reference or an image file")
			}
			p.fromCmdline.Command = "pull"
			p.cfg.Refs = positional(cmd)
			return nil
		},
		Flags: []cli.Flag{
			p.quietFlag(),
			&cli.StringFlag{
				Name:        "image-file",
				Usage:       "Also pulls the images in a file containing a list of image refs",
				Destination: &p.cfg.ImageFile,
				Validator:   validateFile,
			},
			&cli.StringFlag{
				Name:        "os",
				Value:       upstream.DefaultOs,
				Usage:       "The operating system to pull images for",
				Destination: &p.cfg.Os,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.Os = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "arch",
				Value:       upstream.DefaultArch,
				Usage:       "The architecture to pull images for",
				Destination: &p.cfg.Arch,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.Arch = true
					return nil
				},
			},
		},
	}
}

func (p *parser) runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Runs a command in a cached image, pulling it first if needed",
		ArgsUsage: "<ref> [cmd...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := positional(cmd)
			if len(args) == 0 {
				return fmt.Errorf("run requires an image reference")
			}
			p.fromCmdline.Command = "run"
			p.cfg.Refs = args[:1]
			p.cfg.RunConfig.Command = slices.Concat(args[1:], p.runCmdArgs)
			if len(p.cfg.RunConfig.Command) > 0 && p.cfg.RunConfig.Command[0] == terminator {
				p.cfg.RunConfig.Command = p.cfg.RunConfig.Command[1:]
			}
			return nil
		},
		Flags: []cli.Flag{
			p.quietFlag(),
			&cli.StringSliceFlag{
				Name:        "volume",
				Aliases:     []string{"v"},
				Usage:       "Binds a host path into the container as host:ctr (repeatable)",
				Destination: &p.cfg.RunConfig.Volumes,
				Validator: func(vols []string) error {
					for _, vol := range vols {
						if _, err := launcher.ParseVolume(vol); err != nil {
							return err
						}
					}
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "workdir",
				Aliases:     []string{"w"},
				Usage:       "The working directory inside the container",
				Destination: &p.cfg.RunConfig.WorkDir,
			},
			&cli.BoolFlag{
				Name:        "rm",
				Usage:       "Removes the execution root when the command exits",
				Destination: &p.cfg.RunConfig.Remove,
			},
			&cli.StringSliceFlag{
				Name:        "env",
				Aliases:     []string{"e"},
				Usage:       "Sets an environment variable in the container as K=V (repeatable)",
				Destination: &p.cfg.RunConfig.Env,
				Validator: func(envs []string) error {
					for _, env := range envs {
						if k, _, ok := strings.Cut(env, "="); !ok || k == "" {
							return fmt.Errorf("invalid environment entry %q, expected K=V", env)
						}
					}
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "engine",
				Value:       launcher.DefaultEngine,
				Usage:       "The engine that runs the container: proot or podman",
				Destination: &p.cfg.Engine,
				Validator: func(engine string) error {
					if !launcher.IsValidEngine(engine) {
						return fmt.Errorf("unsupported engine %q, must be %s or %s", engine, launcher.Proot, launcher.Podman)
					}
					return nil
				},
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.Engine = true
					return nil
				},
			},
		},
	}
}

func (p *parser) addToAppletCommand() *cli.Command {
	return &cli.Command{
		Name:      "add-to-applet",
		Usage:     "Copies a cached image into an applet's resources",
		ArgsUsage: "<ref> <appletDir>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := positional(cmd)
			if len(args) != 2 {
				return fmt.Errorf("add-to-applet requires an image reference and an applet directory")
			}
			p.fromCmdline.Command = "add-to-applet"
			p.cfg.Refs = args[:1]
			p.cfg.AssetConfig.AppletDir = args[1]
			return nil
		},
		Flags: []cli.Flag{
			p.quietFlag(),
		},
	}
}

func (p *parser) createAssetCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-asset",
		Usage:     "Uploads a cached image to a platform folder as an asset",
		ArgsUsage: "<ref>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := positional(cmd)
			if len(args) != 1 {
				return fmt.Errorf("create-asset requires one image reference")
			}
			p.fromCmdline.Command = "create-asset"
			p.cfg.Refs = args
			return nil
		},
		Flags: []cli.Flag{
			p.quietFlag(),
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Value:       "/",
				Usage:       "The destination folder in the project",
				Destination: &p.cfg.AssetConfig.Folder,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.Folder = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "project",
				Usage:       "The destination project",
				Destination: &p.cfg.Platform.Project,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.Project = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "The asset name (defaults to the image name with '/' replaced by '_')",
				Destination: &p.cfg.AssetConfig.Name,
			},
		},
	}
}

func (p *parser) listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Lists the cache as it is on the file system",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p.fromCmdline.Command = "list"
			return nil
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "header",
				Usage:       "Displays a header line",
				Destination: &p.cfg.ListConfig.Header,
				Action: func(ctx context.Context, cmd *cli.Command, _ bool) error {
					p.fromCmdline.ListConfig = true
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "pattern",
				Usage:       "List images matching the comma-separated pattern(s), e.g. '--pattern ubuntu,samtools'",
				Destination: &p.cfg.ListConfig.Expr,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.fromCmdline.ListConfig = true
					return nil
				},
			},
		},
	}
}

func (p *parser) clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Removes images from the cache: by pattern, by date, or all of them",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.IsSet("pattern") && cmd.IsSet("date") {
				return fmt.Errorf("specify only one of --pattern and --date")
			}
			p.fromCmdline.Command = "clear"
			p.fromCmdline.ClearConfig = cmd.IsSet("pattern") || cmd.IsSet("date") || cmd.IsSet("dry-run")
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pattern",
				Usage:       "Clear images matching the comma-separated pattern(s), e.g. '--pattern ubuntu,samtools'",
				Destination: &p.cfg.ClearConfig.Expr,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.cfg.ClearConfig.Type = "pattern"
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "date",
				Usage:       "Clear images fetched before a timestamp, e.g. '--date 2025-02-28T12:59:59'",
				Destination: &p.cfg.ClearConfig.Expr,
				Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
					p.cfg.ClearConfig.Type = "date"
					return nil
				},
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "Shows what would be cleared, but does not clear",
				Destination: &p.cfg.ClearConfig.DryRun,
			},
		},
	}
}

// Parse parses the passed command line (including the program name in args[0]). It
// returns the following:
//
//  1. A FromCmdLine struct which has the command to run ("pull", "run", etc.). If the command
//     is the empty string then no sub-command was specified in which case the parser auto-displays
//     help. This struct also has flags telling you which configuration values were provided by the
//     user on the command line.
//  2. A Configuration struct containing the parsed configuration values. For any configuration flag
//     in the FromCmdLine struct with a false value, the corresponding configuration value in *this*
//     struct will be the default.
//  3. An error, if the parser returned one, else nil.
func Parse(args []string) (config.FromCmdLine, config.Configuration, error) {
	args, runCommand := splitRunCommand(args)
	p := &parser{runCmdArgs: runCommand}
	if err := p.newCommand().Run(context.Background(), args); err != nil {
		return config.FromCmdLine{}, config.Configuration{}, err
	}
	return p.fromCmdline, p.cfg, nil
}

// splitRunCommand splits the args of the run command after the image reference.
// urfave/cli gets the args up to and including the reference, and the rest is the
// container command, so flags in it (like 'ls -l') are never parsed as dx-docker
// flags. Args without a run command come back unchanged with a nil command.
func splitRunCommand(args []string) ([]string, []string) {
	inRun := false
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == terminator:
			if inRun && i+1 < len(args) {
				return args[:i+2], slices.Clone(args[i+2:])
			}
			return args, nil
		case strings.HasPrefix(arg, "-"):
			if !strings.Contains(arg, "=") && slices.Contains(valueFlags, arg) {
				i++
			}
		case !inRun && arg == "run":
			inRun = true
		case inRun:
			return args[:i+1], slices.Clone(args[i+1:])
		default:
			// some other sub-command
			return args, nil
		}
	}
	return args, nil
}

// positional returns the positional args less any leading terminator
func positional(cmd *cli.Command) []string {
	args := cmd.Args().Slice()
	if len(args) > 0 && args[0] == terminator {
		args = args[1:]
	}
	return args
}

func validateLogLevel(lvl string) error {
	validValues := []string{"debug", "warn", "info", "error", "trace"}
	if !slices.Contains(validValues, strings.ToLower(lvl)) {
		return fmt.Errorf("must be one of %s", strings.Join(validValues, ", "))
	}
	return nil
}

func validateFile(path string) error {
	if fi, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found")
	} else if fi.IsDir() {
		return fmt.Errorf("not a file")
	}
	return nil
}
