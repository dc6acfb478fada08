// Command querykit runs statements against a database from the shell.
package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		printError(cmd.ErrOrStderr(), err.Error())
		os.Exit(1)
	}
}
