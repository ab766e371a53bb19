package main

import (
	"github.com/spf13/cobra"

	"vidpilot/internal/services/youtube"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize external accounts",
	}
	authCmd.AddCommand(&cobra.Command{
		Use:   "youtube",
		Short: "Authorize YouTube uploads and store the refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return youtube.Authorize(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	})
	return authCmd
}
