package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/internal/config"
	"github.com/wraithsec/wraith-cli/internal/crew"
	"github.com/wraithsec/wraith-cli/internal/llmclient"
	"github.com/wraithsec/wraith-cli/internal/notes"
	"github.com/wraithsec/wraith-cli/internal/observability"
	"github.com/wraithsec/wraith-cli/internal/runtime"
	"github.com/wraithsec/wraith-cli/internal/shadowgraph"
	"github.com/wraithsec/wraith-cli/internal/tools"
)

// newCrewCmd creates the `crew` command: a full orchestrated multi-agent run.
func newCrewCmd() *cobra.Command {
	crewCmd := &cobra.Command{
		Use:   "crew [task]",
		Short: "Run a crew of agents against a task under one orchestrator",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			task := strings.Join(args, " ")

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			target, _ := cmd.Flags().GetString("target")
			scope, _ := cmd.Flags().GetString("scope")
			graphOut, _ := cmd.Flags().GetString("graph-out")

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

			newRuntime := func() runtime.Runtime {
				return runtime.NewLocalRuntime(cfg.Runtime.WorkDir, cfg.Runtime.CommandTimeout)
			}
			pool := crew.NewPool(router, registry, cfg.Agent, cfg.Crew, newRuntime, printEvent)
			graph := shadowgraph.New()

			orch := crew.NewOrchestrator(router, pool, store, graph, *cfg, target, scope, registry.Names(), printEvent)

			report, err := orch.Run(ctx, task)
			if err != nil {
				return fmt.Errorf("crew run: %w", err)
			}

			fmt.Println("\n=== Assessment Report ===")
			fmt.Println(report)
			fmt.Println("\n" + graph.ExportSummary())

			if graphOut != "" {
				if err := os.WriteFile(graphOut, []byte(graph.ToMermaid()), 0o644); err != nil {
					logger.Warn("Failed to write graph diagram", zap.Error(err))
				} else {
					logger.Info("Graph diagram written", zap.String("path", graphOut))
				}
			}
			return nil
		},
	}

	crewCmd.Flags().String("target", "", "primary assessment target")
	crewCmd.Flags().String("scope", "", "engagement scope the crew must stay inside")
	crewCmd.Flags().String("graph-out", "", "write the shadow graph as a mermaid diagram to this file")
	return crewCmd
}

// printEvent renders pool and orchestrator events to the terminal.
func printEvent(workerID, event string, data map[string]interface{}) {
	switch event {
	case "spawn":
		fmt.Printf("[+] %s spawned: %v\n", workerID, data["task"])
	case "tool":
		fmt.Printf("[*] %s calling tools: %v\n", workerID, data["tools"])
	case "tool_call":
		fmt.Printf("[*] %s -> %v\n", workerID, data["tool"])
	case "complete":
		fmt.Printf("[✓] %s complete\n", workerID)
	case "warning":
		fmt.Printf("[!] %s finished with a warning\n", workerID)
	case "cancelled":
		fmt.Printf("[-] %s cancelled\n", workerID)
	case "error":
		fmt.Printf("[x] %s failed: %v\n", workerID, data["error"])
	}
}
