package migrate

import (
	"github.com/spf13/cobra"

	"github.com/streamcompare/authsync/internal/business"
	"github.com/streamcompare/authsync/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"authsync migrations",
		"Applies the profile schema migrations to the hosted database",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
