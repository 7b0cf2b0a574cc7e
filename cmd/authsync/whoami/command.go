package whoami

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamcompare/authsync/internal/business"
	"github.com/streamcompare/authsync/internal/cmdutils"
	"github.com/streamcompare/authsync/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	opts := business.WhoAmIOptions{}

	cmd := cmdutils.CobraCommand(
		"whoami",
		"Sign in and show the current identity",
		"Signs in with a password and prints the identity the session source reports. "+
			"With --watch the session is kept fresh and every change is printed until it ends.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			return business.WhoAmI(ctx, cfg, opts, os.Stdout)
		},
	)

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email")
	cmd.Flags().StringVar(&opts.PasswordFile, "password-file", "", "file holding the account password")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", business.OutputText, "output format, text or yaml")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep the session alive and print every change")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password-file")

	return cmd
}
