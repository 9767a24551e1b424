// Command shipper wires the publish reliability engine's components into
// two operations, publish and resume (spec.md §4.5, §4.7). Parsing the
// workspace-metadata file's own format and pretty-printing results are
// explicitly out of scope (spec.md §1); this package is intentionally
// thin, grounded on the teacher's cobra root-command wiring style.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagWorkspace  string
	flagSelect     []string
	flagParallel   bool
	flagDir        string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shipper",
		Short:         "Publish a multi-package workspace to a package registry reliably",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to .shipper.toml (default: ./.shipper.toml)")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", "workspace.json", "path to a JSON workspace descriptor")
	root.PersistentFlags().StringSliceVar(&flagSelect, "select", nil, "restrict to these name@version packages (default: all publishable)")
	root.PersistentFlags().BoolVar(&flagParallel, "parallel", false, "execute each dependency wave concurrently (spec.md §4.5p)")
	root.PersistentFlags().StringVar(&flagDir, "dir", ".", "workspace root directory, for git context and package paths")

	root.AddCommand(newPublishCmd())
	root.AddCommand(newResumeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shipper:", err)
		os.Exit(1)
	}
}
