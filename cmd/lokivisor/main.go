package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot wires every subcommand. out receives command output.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	serveFlags := &ServeFlags{}
	hashFlags := &HashPasswordFlags{}

	lokivisorCommand := command{global: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStartCommand(lokivisorCommand),
		createStopCommand(lokivisorCommand),
		createKillCommand(lokivisorCommand),
		createManagedStopCommand(lokivisorCommand),
		createStatusCommand(lokivisorCommand, statusFlags),
		createLoginCommand(lokivisorCommand),
		createHashPasswordCommand(lokivisorCommand, hashFlags),
	)
	return root
}

// createRootCommand creates the root command with the persistent API flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "lokivisor",
		Short: "Lifecycle supervisor for lokinet",
		Long: `Lokivisor starts, stops and observes a single lokinet process.

Run "lokivisor serve" next to lokinet, then drive it through the HTTP API
or the client subcommands.

Examples:
  lokivisor serve --config=lokivisor.toml
  lokivisor status
  lokivisor managed-stop --wait=10s
  lokivisor status --api-url=http://remote:8080/api  # Remote status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (toml, yaml or json)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", defaultAPIUrl, "supervisor API URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an https API URL")
	root.PersistentFlags().BoolVar(&flags.SkipVerify, "insecure-skip-verify", false, "skip TLS certificate verification")
	root.PersistentFlags().StringVar(&flags.Token, "token", os.Getenv("LOKIVISOR_TOKEN"), "bearer token (default $LOKIVISOR_TOKEN)")
	root.PersistentFlags().StringVar(&flags.Username, "username", "", "username for basic auth or login")
	root.PersistentFlags().StringVar(&flags.Password, "password", "", "password for basic auth or login")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config]",
		Short: "Run the supervisor and its HTTP API",
		Long: `Run the supervisor in the foreground until SIGINT or SIGTERM.
Without a config file the defaults and LOKIVISOR_* environment variables apply.

Examples:
  lokivisor serve                          # defaults, lokinet on PATH
  lokivisor serve lokivisor.toml --start   # start lokinet right away
  lokivisor serve --managed-stop-on-exit   # stop lokinet before exiting`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *serveFlags, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Start, "start", false, "start the process once the API is listening")
	cmd.Flags().BoolVar(&serveFlags.ManagedStopOnExit, "managed-stop-on-exit", false, "managed stop a running process on shutdown")
	cmd.Flags().DurationVar(&serveFlags.ShutdownTimeout, "shutdown-timeout", 15*time.Second, "how long shutdown may take")

	return cmd
}

func createStartCommand(c command) *cobra.Command {
	f := &OperationFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the process",
		Long: `Start lokinet. Fails when it is already running or starting.

Examples:
  lokivisor start
  lokivisor start --wait=10s   # wait until it reports running`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), *f)
		},
	}
	addOperationFlags(cmd, f)
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	f := &OperationFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the process to exit gracefully",
		Long: `Send a graceful stop request. Nothing escalates if lokinet ignores it;
use managed-stop for that.

Examples:
  lokivisor stop
  lokivisor stop --wait=5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *f)
		},
	}
	addOperationFlags(cmd, f)
	return cmd
}

func createKillCommand(c command) *cobra.Command {
	f := &OperationFlags{}
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Force stop the process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Kill(cmd.Context(), *f)
		},
	}
	addOperationFlags(cmd, f)
	return cmd
}

func createManagedStopCommand(c command) *cobra.Command {
	f := &OperationFlags{}
	cmd := &cobra.Command{
		Use:   "managed-stop",
		Short: "Stop gracefully, force stopping after the grace window",
		Long: `Request a graceful stop. The supervisor force stops lokinet once if it
is still alive when the grace window elapses. Only one managed stop runs at a time.

Examples:
  lokivisor managed-stop
  lokivisor managed-stop --wait=10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ManagedStop(cmd.Context(), *f)
		},
	}
	addOperationFlags(cmd, f)
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(c command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process status",
		Long: `Show the cached status of lokinet.

Examples:
  lokivisor status
  lokivisor status --detailed -o yaml   # pid, managed stop state and resources
  lokivisor status --watch --interval=2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *statusFlags)
		},
	}
	cmd.Flags().BoolVar(&statusFlags.Detailed, "detailed", false, "show detailed info")
	cmd.Flags().StringVarP(&statusFlags.Output, "output", "o", outputText, "output format: text, json or yaml")
	cmd.Flags().BoolVar(&statusFlags.Watch, "watch", false, "print the status repeatedly until interrupted")
	cmd.Flags().DurationVar(&statusFlags.Interval, "interval", time.Second, "watch interval")
	return cmd
}

func createLoginCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange username and password for a bearer token",
		Long: `Log in to an API with auth enabled and print the token.

Examples:
  export LOKIVISOR_TOKEN=$(lokivisor login --username=ops --password=secret)
  lokivisor status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Login(cmd.Context())
		},
	}
}

func createHashPasswordCommand(c command, f *HashPasswordFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for server.auth.users[].password_hash",
		Long: `Hash a password for the config file. Without --password the first
line of stdin is used.

Examples:
  lokivisor hash-password --password=secret
  echo secret | lokivisor hash-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(cmd.InOrStdin(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Password, "password", "", "password to hash")
	cmd.Flags().IntVar(&f.Cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}

func addOperationFlags(cmd *cobra.Command, f *OperationFlags) {
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "wait up to this long for the operation to settle")
	cmd.Flags().DurationVar(&f.Interval, "interval", 200*time.Millisecond, "poll interval while waiting")
	cmd.Flags().StringVarP(&f.Output, "output", "o", outputText, "output format: text, json or yaml")
}
