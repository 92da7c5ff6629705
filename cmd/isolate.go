package cmd

import (
	"github.com/spf13/cobra"

	"sandboxexec/isolate"
)

var isolateExecCmd = &cobra.Command{
	Use:    isolate.ReexecSubcommand + " <target> [args...]",
	Short:  "Apply resource limits and exec the target (internal use)",
	Long:   `Internal command re-exec'd by the command executor to apply rlimits before replacing its process image with the target binary.`,
	Hidden: true,
	Args:   cobra.MinimumNArgs(1),
	RunE:   runIsolateExec,
}

func init() {
	rootCmd.AddCommand(isolateExecCmd)
}

func runIsolateExec(cmd *cobra.Command, args []string) error {
	return isolate.RunReexecedChild(args[0], args[1:])
}
