// Command ocirun is the CLI entrypoint: a thin shell over the ocirun
// package that parses flags, builds the wired backends, and maps errors
// to process exit codes.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	ocirun "github.com/nexroute/ocirun"
	"github.com/nexroute/ocirun/internal/backend/lxc"
	"github.com/nexroute/ocirun/internal/backend/ocilib"
	"github.com/nexroute/ocirun/internal/backend/vm"
	"github.com/nexroute/ocirun/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "ocirun",
		Usage: "a multi-backend OCI-compatible container runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "container state root (default: " + ocirun.DefaultStateRoot + ")"},
			&cli.StringFlag{Name: "log", Usage: "log file path (default: stderr console)"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.StringFlag{Name: "config", Usage: "path to the runtime config file"},
		},
		Commands: []*cli.Command{
			createCommand,
			startCommand,
			stopCommand,
			killCommand,
			deleteCommand,
			stateCommand,
			listCommand,
			infoCommand,
			execCommand,
			runCommand,
			pauseCommand,
			resumeCommand,
			psCommand,
			specCommand,
			eventsCommand,
			checkpointCommand,
			restoreCommand,
			updateCommand,
			featuresCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the documented process exit code:
// 0 success, 1 generic failure, 2 usage error, 3 container-not-found,
// 4 precondition failure (wrong status, or the id already exists),
// 125 runtime error, 126 cannot invoke backend, 127 backend not installed.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	ociErr, ok := err.(*ocirun.Error)
	if !ok {
		return 1
	}
	switch ociErr.Kind {
	case ocirun.KindValidation:
		return 2
	case ocirun.KindNotFound:
		return 3
	case ocirun.KindPrecondition:
		return 4
	case ocirun.KindNotInstalled:
		return 127
	case ocirun.KindCliFailed, ocirun.KindLibraryError:
		return 126
	default:
		return 125
	}
}

// buildRuntime wires a Runtime from CLI-global flags. Each command calls
// this once; the backends are cheap to construct and hold no persistent
// connections apart from the VM backend's HTTP client.
func buildRuntime(c *cli.Context) (*ocirun.Runtime, error) {
	cfgPath := ocirun.ConfigPathFromEnv(c.String("config"))
	cfg, err := ocirun.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if root := c.String("root"); root != "" {
		cfg.StateRoot = root
	}

	var log ocirun.Logger
	if logFile := c.String("log"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, err
		}
		log = ocirun.NewJSONLogger(f, cfg.Log.Level)
	} else {
		log = ocirun.NewConsoleLogger(c.Bool("debug"))
	}

	store, err := ocirun.NewStateStore(cfg.StateRoot)
	if err != nil {
		return nil, err
	}

	lxcTool := cfg.LXC.ToolPath
	if lxcTool == "" {
		lxcTool = "pct"
	}
	backends := map[ocirun.BackendTag]ocirun.Backend{
		ocirun.BackendOCILib: ocilib.NewBackend(cfg.StateRoot, "crun", log.With("backend", "oci-lib")),
		ocirun.BackendLXC:    lxc.NewBackend(lxcTool, cfg.StateRoot, log.With("backend", "lxc")),
	}
	if len(cfg.Remote.Hosts) > 0 {
		tlsVerify := cfg.Remote.TLSVerify == nil || *cfg.Remote.TLSVerify
		ep := transport.Endpoint{
			Hosts:     cfg.Remote.Hosts,
			Port:      cfg.Remote.Port,
			APIToken:  cfg.Remote.Token,
			Node:      cfg.Remote.Node,
			TLSVerify: tlsVerify,
		}
		client := transport.NewClient(ep, log.Zerolog())
		backends[ocirun.BackendVM] = vm.NewBackend(client, cfg.Remote.Node, log.With("backend", "vm"))
	}

	router := ocirun.NewRouter(backends, cfg.DefaultRuntime)
	return ocirun.NewRuntime(store, router, log, nil), nil
}

var createCommand = &cli.Command{
	Name:      "create",
	Usage:     "create a container from an OCI bundle",
	ArgsUsage: "<container-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Value: ".", Usage: "OCI bundle directory"},
		&cli.StringFlag{Name: "pid-file", Usage: "write the container pid to this file"},
		&cli.StringFlag{Name: "console-socket", Usage: "unix socket for the console pty"},
		&cli.StringFlag{Name: "runtime", Usage: "backend to use: crun, lxc, or vm"},
	},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return usageErr("container id is required")
		}
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		record, err := rt.Create(c.Context, id, c.String("bundle"), c.String("runtime"), c.String("console-socket"))
		if err != nil {
			return err
		}
		if pidFile := c.String("pid-file"); pidFile != "" {
			if err := os.WriteFile(pidFile, []byte(strconv.FormatInt(record.Pid, 10)), 0o644); err != nil {
				return err
			}
		}
		return nil
	},
}

var startCommand = &cli.Command{
	Name:      "start",
	Usage:     "start a created container",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		return rt.Start(c.Context, id)
	},
}

var stopCommand = &cli.Command{
	Name:      "stop",
	Usage:     "stop a running container",
	ArgsUsage: "<container-id>",
	Flags:     []cli.Flag{&cli.BoolFlag{Name: "force"}},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		return rt.Stop(c.Context, id, c.Bool("force"))
	},
}

var killCommand = &cli.Command{
	Name:      "kill",
	Usage:     "send a signal to a container's process",
	ArgsUsage: "<container-id> <signal>",
	Action: func(c *cli.Context) error {
		id := c.Args().Get(0)
		signal := c.Args().Get(1)
		if signal == "" {
			signal = "TERM"
		}
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		return rt.Kill(c.Context, id, signal)
	},
}

var deleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "delete a container's state",
	ArgsUsage: "<container-id>",
	Flags:     []cli.Flag{&cli.BoolFlag{Name: "force"}},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		return rt.Delete(c.Context, id, c.Bool("force"))
	},
}

var stateCommand = &cli.Command{
	Name:      "state",
	Usage:     "print a container's current state as JSON",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		record, err := rt.State(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(record.ToStateResponse(ocirun.OCIVersion))
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "list all containers",
	Action: func(c *cli.Context) error {
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		records, err := rt.List(c.Context)
		if err != nil {
			return err
		}
		responses := make([]ocirun.StateResponse, 0, len(records))
		for _, r := range records {
			responses = append(responses, r.ToStateResponse(ocirun.OCIVersion))
		}
		return printJSON(responses)
	},
}

var psCommand = &cli.Command{
	Name:      "ps",
	Usage:     "list processes running inside a container",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		return unsupportedErr("ps")
	},
}

var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "print backend-specific container info",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		record, err := rt.State(c.Context, id)
		if err != nil {
			return err
		}
		backend, err := rt.Router.Backend(record.BackendTag)
		if err != nil {
			return err
		}
		info, err := backend.Info(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

var execCommand = &cli.Command{
	Name:      "exec",
	Usage:     "execute a command inside a running container",
	ArgsUsage: "<container-id> -- <command> [args...]",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		record, err := rt.State(c.Context, id)
		if err != nil {
			return err
		}
		backend, err := rt.Router.Backend(record.BackendTag)
		if err != nil {
			return err
		}
		exitCode, err := backend.Exec(c.Context, id, c.Args().Tail())
		if err != nil {
			return err
		}
		os.Exit(exitCode)
		return nil
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "create and start a container in one step",
	ArgsUsage: "<container-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Value: "."},
		&cli.StringFlag{Name: "runtime"},
		&cli.StringFlag{Name: "console-socket", Usage: "unix socket for the console pty"},
	},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		rt, err := buildRuntime(c)
		if err != nil {
			return err
		}
		if _, err := rt.Create(c.Context, id, c.String("bundle"), c.String("runtime"), c.String("console-socket")); err != nil {
			return err
		}
		return rt.Start(c.Context, id)
	},
}

var pauseCommand = &cli.Command{
	Name:      "pause",
	Usage:     "pause a running container",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		return unsupportedErr("pause")
	},
}

var resumeCommand = &cli.Command{
	Name:      "resume",
	Usage:     "resume a paused container",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		return unsupportedErr("resume")
	},
}

var specCommand = &cli.Command{
	Name:  "spec",
	Usage: "generate a template config.json in the current directory",
	Action: func(c *cli.Context) error {
		return unsupportedErr("spec")
	},
}

var eventsCommand = &cli.Command{
	Name:      "events",
	Usage:     "stream container resource usage events",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		return unsupportedErr("events")
	},
}

var checkpointCommand = &cli.Command{
	Name:      "checkpoint",
	Usage:     "checkpoint a container's running state",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		return unsupportedErr("checkpoint")
	},
}

var restoreCommand = &cli.Command{
	Name:      "restore",
	Usage:     "restore a container from a checkpoint",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		return unsupportedErr("restore")
	},
}

var updateCommand = &cli.Command{
	Name:      "update",
	Usage:     "update a running container's resource limits",
	ArgsUsage: "<container-id>",
	Action: func(c *cli.Context) error {
		return unsupportedErr("update")
	},
}

var featuresCommand = &cli.Command{
	Name:  "features",
	Usage: "print the runtime's supported feature set as JSON",
	Action: func(c *cli.Context) error {
		return printJSON(map[string]interface{}{
			"ociVersionMin": "1.0.0",
			"ociVersionMax": ocirun.OCIVersion,
			"annotations":   true,
			"hooks":         true,
			"mountOptions":  []string{"bind"},
		})
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageErr(msg string) error {
	return &ocirun.Error{Kind: ocirun.KindValidation, Message: msg}
}

func unsupportedErr(op string) error {
	return &ocirun.Error{Kind: ocirun.KindNotInstalled, Op: op, Message: fmt.Sprintf("%q is not supported by this runtime", op)}
}
