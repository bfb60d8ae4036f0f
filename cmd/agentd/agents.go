package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentforge/platform/internal/config"
	"github.com/agentforge/platform/internal/lifecycle"
	"github.com/agentforge/platform/internal/sessions"
	"github.com/agentforge/platform/pkg/models"
)

func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect and manage agent configurations directly against the database",
	}
	cmd.AddCommand(buildAgentsListCmd(), buildAgentsCreateCmd(), buildAgentsShowCmd())
	return cmd
}

// openAgentStore opens a PostgresAgentStore sharing its connection pool with
// a fresh sessions.PostgresStore, mirroring how runServe wires the two
// stores together against one database.
func openAgentStore(configPath string) (*lifecycle.PostgresAgentStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	sessionStore, err := sessions.NewPostgresStoreFromDSN(cfg.DatabaseDSN(), cfg.SessionsConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("open sessions store: %w", err)
	}
	agentStore, err := lifecycle.NewPostgresAgentStore(sessionStore.DB())
	if err != nil {
		sessionStore.Close()
		return nil, nil, fmt.Errorf("open agent store: %w", err)
	}
	return agentStore, func() { agentStore.Close(); sessionStore.Close() }, nil
}

func buildAgentsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every persisted agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openAgentStore(configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			agents, err := store.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range agents {
				fmt.Fprintf(out, "%s\t%s\t%s/%s\n", a.ID, a.Name, a.ModelProvider, a.ModelName)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "Path to YAML configuration file")
	return cmd
}

func buildAgentsCreateCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		name       string
		provider   string
		model      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new agent",
		Example: `  agentd agents create --user u1 --name assistant --provider anthropic --model claude-sonnet-4-20250514`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openAgentStore(configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			agentCfg := &models.AgentConfig{
				UserID:        userID,
				Name:          name,
				ModelProvider: models.ModelProvider(provider),
				ModelName:     model,
			}
			if err := store.CreateAgent(cmd.Context(), agentCfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created agent %s (%s)\n", agentCfg.ID, agentCfg.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "Owning user id (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Agent name (required)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "anthropic", "LLM provider")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model identifier")
	cobra.CheckErr(cmd.MarkFlagRequired("user"))
	cobra.CheckErr(cmd.MarkFlagRequired("name"))
	return cmd
}

func buildAgentsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show [agent-id]",
		Short: "Show one agent's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openAgentStore(configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			agentCfg, err := store.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:       %s\n", agentCfg.ID)
			fmt.Fprintf(out, "name:     %s\n", agentCfg.Name)
			fmt.Fprintf(out, "provider: %s\n", agentCfg.ModelProvider)
			fmt.Fprintf(out, "model:    %s\n", agentCfg.ModelName)
			fmt.Fprintf(out, "sessions: %d\n", agentCfg.TotalSessions)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "Path to YAML configuration file")
	return cmd
}
