package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput() {
				return printJSON(map[string]string{
					"version":    GetVersion(),
					"commit":     GetCommit(),
					"build_date": BuildDate,
					"go":         GetGoVersion(),
					"platform":   runtime.GOOS + "/" + runtime.GOARCH,
				})
			}
			fmt.Println(StatusBox(Logo()+" "+GetVersion(), [][2]string{
				{"Commit", GetCommit()},
				{"Built", BuildDate},
				{"Go", GetGoVersion()},
				{"Platform", runtime.GOOS + "/" + runtime.GOARCH},
			}))
			return nil
		},
	}
}
