// pictosend runs the shared drawing board server and a few tools around it.
package main

import (
	"fmt"
	"os"

	"github.com/jacksonlevine/pictosend/cmd"
	"github.com/jacksonlevine/pictosend/node"
)

var (
	version string
	commit  string
	branch  string
)

func main() { // run the app
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch

	root := node.GetCommand()
	root.Version = fmt.Sprintf("%s+%s+%s", version, commit, branch)
	root.AddCommand(historyCommand(), sendCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
