package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"crm-platform/internal/app"
	"crm-platform/internal/fetchconfig"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// operatorID is recorded as the actor on config changes made from the CLI.
const operatorID = "leadctl"

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage fetch configs",
	}
	cmd.AddCommand(configListCmd(), configResolveCmd(), configImportCmd())
	return cmd
}

func configListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rows, err := a.Configs.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"configs":  rows,
					"defaults": a.Configs.Defaults(),
				})
			})
		},
	}
}

func configResolveCmd() *cobra.Command {
	var (
		role   string
		branch int64
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the config an agent with the given role and branch would get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var branchID *int64
			if cmd.Flags().Changed("branch") {
				branchID = &branch
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Configs.Preview(ctx, role, branchID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role id, e.g. BA")
	cmd.Flags().Int64Var(&branch, "branch", 0, "branch id")
	return cmd
}

func configImportCmd() *cobra.Command {
	var skipExisting bool
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create fetch configs from a YAML file",
		Long: `Create fetch configs from a YAML file of the form:

  configs:
    - role_id: BA
      branch_id: 7
      per_request_limit: 20
      daily_call_limit: 5
      outstanding_limit: 40
      ttl_hours: 24
      reactivation_window_days: 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := parseConfigFile(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				created := 0
				for _, row := range rows {
					if _, err := a.Configs.Create(ctx, operatorID, row); err != nil {
						if skipExisting && errors.Is(err, fetchconfig.ErrDuplicate) {
							fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: already configured\n", row.CacheKey())
							continue
						}
						return fmt.Errorf("%s: %w", row.CacheKey(), err)
					}
					created++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d config(s)\n", created, len(rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "ignore rows whose role/branch key already exists")
	return cmd
}

type configFile struct {
	Configs []fetchconfig.Row `yaml:"configs"`
}

func parseConfigFile(r io.Reader) ([]fetchconfig.Row, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f configFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty config file")
		}
		return nil, err
	}
	if len(f.Configs) == 0 {
		return nil, errors.New("no configs listed")
	}
	seen := make(map[string]bool, len(f.Configs))
	for _, row := range f.Configs {
		k := row.CacheKey()
		if seen[k] {
			return nil, fmt.Errorf("duplicate key %s", k)
		}
		seen[k] = true
	}
	return f.Configs, nil
}
