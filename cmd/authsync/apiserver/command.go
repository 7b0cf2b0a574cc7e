package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/streamcompare/authsync/internal/business"
	"github.com/streamcompare/authsync/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"authsync API server",
		"authsync API server hosts the auth callback, sign out, protected and diagnostic HTTP routes",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
