// sandboxexec is a sandboxed command and file-operation execution
// service. It speaks a line-delimited JSON protocol over stdio or a Unix
// domain socket, dispatching filesystem and command requests to isolated
// executors under per-session capability and resource-limit policies.
//
// Commands:
//
//	serve       - run the execution service
//	healthcheck - probe a running instance over its Unix socket
//	version     - print version information
package main

import (
	"fmt"
	"os"

	"sandboxexec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
