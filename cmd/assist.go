package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wraithsec/wraith-cli/internal/agent"
	"github.com/wraithsec/wraith-cli/internal/config"
	"github.com/wraithsec/wraith-cli/internal/llmclient"
	"github.com/wraithsec/wraith-cli/internal/notes"
	"github.com/wraithsec/wraith-cli/internal/observability"
	"github.com/wraithsec/wraith-cli/internal/runtime"
	"github.com/wraithsec/wraith-cli/internal/tools"
)

// newAssistCmd creates the `assist` command: one model call and at most one
// tool round, for quick questions that don't need a full crew.
func newAssistCmd() *cobra.Command {
	assistCmd := &cobra.Command{
		Use:   "assist [question]",
		Short: "Ask a single-shot question with one optional tool round",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			store, err := notes.NewStore(cfg.Notes.Path)
			if err != nil {
				return fmt.Errorf("opening notes store: %w", err)
			}
			registry := tools.NewRegistry()
			if err := tools.RegisterBuiltins(registry, store); err != nil {
				return fmt.Errorf("registering tools: %w", err)
			}
			router, err := llmclient.NewRouterFromConfig(cfg.Agent.LLM, os.Getenv("WRAITH_API_KEY"), logger)
			if err != nil {
				return fmt.Errorf("building LLM router: %w", err)
			}

			rt := runtime.NewLocalRuntime(cfg.Runtime.WorkDir, cfg.Runtime.CommandTimeout)
			if err := rt.Start(ctx); err != nil {
				return fmt.Errorf("starting runtime: %w", err)
			}
			defer rt.Stop(ctx) //nolint:errcheck

			executor := tools.NewExecutor(registry, cfg.Agent.ToolTimeout)
			ag := agent.New(router, registry, executor, rt, agent.Options{
				Name:   "assist",
				Memory: cfg.Agent.Memory,
			})

			answer, err := ag.Assist(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
	return assistCmd
}
