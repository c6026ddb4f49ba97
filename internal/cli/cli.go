// Package cli parses perch command lines. The same parser handles the
// process's own arguments and arguments forwarded from a second instance.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ErrHelpRequested is returned when the arguments asked for help or the
// version. The output has already been written and nothing else should run.
var ErrHelpRequested = errors.New("help requested")

// Kind is the closed set of commands.
type Kind int

const (
	// KindEmpty is an invocation without a subcommand.
	KindEmpty Kind = iota
	// KindQueryMonitors prints the monitors as JSON.
	KindQueryMonitors
	// KindOpenWidgetDefault opens one widget config.
	KindOpenWidgetDefault
	// KindStartup opens the startup widget configs.
	KindStartup
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindQueryMonitors:
		return "query monitors"
	case KindOpenWidgetDefault:
		return "open-widget-default"
	case KindStartup:
		return "startup"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is a parsed command line. ConfigPath is set only for
// KindOpenWidgetDefault; ConfigDir is an optional override for the open
// commands.
type Command struct {
	Kind       Kind
	ConfigPath string
	ConfigDir  string
}

// OpensWidgets reports whether the command opens widgets when run by the
// serving instance.
func (c Command) OpensWidgets() bool {
	switch c.Kind {
	case KindOpenWidgetDefault, KindStartup, KindEmpty:
		return true
	case KindQueryMonitors:
		return false
	}
	return false
}

// Version is reported by --version.
var Version = "dev"

// Parse parses args, which exclude the program name. Help and usage output is
// written to out.
func Parse(args []string, out io.Writer) (Command, error) {
	var cmd Command
	parsed := false

	root := &cobra.Command{
		Use:   "perch",
		Short: "Desktop widgets backed by live system data",
		Long: `perch hosts desktop widgets configured by files in its config
directory and keeps them placed on the right monitors.

Running perch without a subcommand forwards to the running instance, or
starts one that opens the startup widgets.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			cmd = Command{Kind: KindEmpty}
			parsed = true
			return nil
		},
	}

	query := &cobra.Command{
		Use:   "query",
		Short: "Query desktop state",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return fmt.Errorf("query requires a target, one of: monitors")
		},
	}
	query.AddCommand(&cobra.Command{
		Use:   "monitors",
		Short: "Print the connected monitors as JSON",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cmd = Command{Kind: KindQueryMonitors}
			parsed = true
			return nil
		},
	})

	var openDir string
	open := &cobra.Command{
		Use:   "open-widget-default <config_path>",
		Short: "Open the widget defined by a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cmd = Command{Kind: KindOpenWidgetDefault, ConfigPath: args[0], ConfigDir: openDir}
			parsed = true
			return nil
		},
	}
	open.Flags().StringVar(&openDir, "config-dir", "", "config directory (default $XDG_CONFIG_HOME/perch)")

	var startupDir string
	startup := &cobra.Command{
		Use:   "startup",
		Short: "Open every widget flagged autostart",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cmd = Command{Kind: KindStartup, ConfigDir: startupDir}
			parsed = true
			return nil
		},
	}
	startup.Flags().StringVar(&startupDir, "config-dir", "", "config directory (default $XDG_CONFIG_HOME/perch)")

	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(query, open, startup)

	// cobra falls back to os.Args for a nil slice.
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	if err := root.Execute(); err != nil {
		return Command{}, err
	}
	if !parsed {
		return Command{}, ErrHelpRequested
	}
	return cmd, nil
}
