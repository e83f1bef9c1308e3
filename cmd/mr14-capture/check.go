package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/mr14capture/internal/config"
	"github.com/Lllllllleong/mr14capture/internal/services"
)

func newCheckCommand(deps *Deps) *cobra.Command {
	var (
		model   string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the Google Cloud project, credentials and Vertex AI access",
		Long: `Run the same checks the extraction depends on: a project must be configured,
the credentials file (if any) must exist, and a one-token request to the model
must succeed. The command fails unless the verdict is "ok".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, deps)
			if err != nil {
				return err
			}
			if model == "" {
				model = cfg.DefaultModel
			}

			result := runCheck(cmd.Context(), deps, cfg, model)
			if jsonOut {
				if err := json.NewEncoder(deps.Stdout).Encode(result); err != nil {
					return fmt.Errorf("failed to encode result: %w", err)
				}
			} else {
				fmt.Fprintf(deps.Stdout, "[%s] %s\n", result.Status, result.Message)
			}
			if result.Status != services.PreflightOK {
				return fmt.Errorf("credential check failed: %s", result.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model to ping (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func runCheck(ctx context.Context, deps *Deps, cfg *config.Config, model string) services.PreflightResult {
	pcfg := services.PreflightConfig{
		ProjectID:       cfg.ProjectID,
		CredentialsFile: cfg.CredentialsFile,
		Model:           model,
	}

	var pinger services.Pinger
	if cfg.ProjectID != "" {
		client, err := deps.NewRecognizer(ctx, cfg)
		if err != nil {
			slog.Error("Failed to create Vertex AI client.", "error", err)
		} else {
			defer client.Close()
			pinger = client
		}
	}
	return services.ValidateCredentials(ctx, pinger, pcfg)
}
