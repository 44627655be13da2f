package main

import (
	"time"

	"crm-platform/internal/auth"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		id     auth.Identity
		branch int64
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access/refresh token pair for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("branch") {
				id.BranchID = &branch
			}
			pair, err := m.IssuePair(time.Now(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pair)
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "employee code")
	cmd.Flags().StringVar(&id.Name, "name", "", "display name")
	cmd.Flags().StringVar(&id.Role, "role", "BA", "role id")
	cmd.Flags().Int64Var(&branch, "branch", 0, "branch id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
