package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/querykit/client"
)

func newPingCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the database is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := root.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			latency, err := c.TestConnection(ctx)
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), fmt.Sprintf("connected in %s", latency))
			return nil
		},
	}
}

// queryOptions holds flags for the query command.
type queryOptions struct {
	*rootOptions
	Format string
}

func newQueryCommand(root *rootOptions) *cobra.Command {
	opts := &queryOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "query <sql> [params...]",
		Short: "Run a row-returning statement",
		Long: `Run a row-returning statement and print the rows.

Example:
  querykit query "SELECT * FROM users WHERE age > ?" 21 --format table`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "json" && opts.Format != "table" {
				return fmt.Errorf("invalid format %q: must be json or table", opts.Format)
			}

			ctx := cmd.Context()
			c, err := root.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			rs, err := c.Execute(ctx, client.NewStatement(args[0], toParams(args[1:])...), client.WithoutCache())
			if err != nil {
				return fmt.Errorf("%s", client.FormatError(err, c.IsDebugMode()))
			}

			if opts.Format == "table" {
				printRows(cmd.OutOrStdout(), rs)
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rs.Rows)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "json", "output format (json|table)")
	return cmd
}

func newExecCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql> [params...]",
		Short: "Run a statement that does not return rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := root.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			rs, err := c.Exec(ctx, args[0], toParams(args[1:])...)
			if err != nil {
				return fmt.Errorf("%s", client.FormatError(err, c.IsDebugMode()))
			}
			printSuccess(cmd.OutOrStdout(),
				fmt.Sprintf("%d rows affected (last insert id %d)", rs.RowsAffected, rs.LastInsertID))
			return nil
		},
	}
}

func newInfoCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print client debug information as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := root.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			fmt.Fprintln(cmd.OutOrStdout(), c.DumpDebugInfoJSON())
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "querykit v%s\n", client.Version)
		},
	}
}

// toParams passes CLI arguments as strings; "NULL" becomes nil.
func toParams(args []string) []interface{} {
	params := make([]interface{}, len(args))
	for i, a := range args {
		if strings.EqualFold(a, "null") {
			continue
		}
		params[i] = a
	}
	return params
}
