package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/querykit/client"
	"github.com/dan-strohschein/querykit/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Driver     string
	DSN        string
	Database   string
	LogLevel   string
	Debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "querykit",
		Short: "querykit - run SQL through the querykit client",
		Long: `Run SQL statements through the querykit client pipeline.

Connection settings come from --config, then QUERYKIT_* environment
variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (mysql|sqlite3)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "data source name")
	cmd.PersistentFlags().StringVar(&opts.Database, "database", "", "database name, or file path for sqlite3")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (DEBUG|INFO|WARN|ERROR)")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "include details and stack traces in errors")

	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newExecCommand(opts))
	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// options merges config file, environment and flags.
func (o *rootOptions) options() (client.Options, error) {
	opts, err := config.Load(o.ConfigPath)
	if err != nil {
		return client.Options{}, err
	}
	if o.Driver != "" {
		opts.DriverName = o.Driver
	}
	if o.DSN != "" {
		opts.DSN = o.DSN
	}
	if o.Database != "" {
		opts.Database = o.Database
	}
	if o.LogLevel != "" {
		opts.LogLevel = o.LogLevel
	}
	if o.Debug {
		opts.DebugMode = true
	}
	// Client logs stay off unless asked for; they go to stderr.
	if o.LogLevel == "" {
		opts.Logger = client.NewNoopLogger()
	}
	return opts, nil
}

// connect builds and connects a client. The caller must close it.
func (o *rootOptions) connect(ctx context.Context) (*client.Client, error) {
	opts, err := o.options()
	if err != nil {
		return nil, err
	}
	c := client.NewClient(&opts)
	if err := c.ConnectSingle(ctx); err != nil {
		return nil, fmt.Errorf("%s", client.FormatError(err, opts.DebugMode))
	}
	return c, nil
}
