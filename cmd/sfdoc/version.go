package main

import (
	"github.com/spf13/cobra"

	"github.com/mrajeshsfdc/sfdoc/internal/ver"
)

func newVersionCmd(version ver.Version) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of sfdoc",
		Long: `Print the version of sfdoc. For example:

sfdoc version

Go Version: go1.25.4
Version: devel
Commit: b1fd421
Dirty: false
Build Time: Mon Jan  1 00:00:00 2024
OS/Arch: linux/amd64`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(version.Format())
		},
	}
}
