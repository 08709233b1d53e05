package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"syncgate/internal/auth"
	"syncgate/internal/connector"
	"syncgate/internal/connector/all"
	"syncgate/internal/integration"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
	"syncgate/internal/queue"
	"syncgate/internal/secrets"
)

func newConnectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List available connector types",
		Run: func(cmd *cobra.Command, _ []string) {
			f := all.NewFactory(connector.Deps{})
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tNAME\tVERSION\tWEBHOOKS\tOPERATIONS")
			for _, info := range f.AvailableConnectors() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", info.ID, info.Name, info.Version, info.Webhooks, strings.Join(info.SupportedOperations, ","))
			}
			_ = tw.Flush()
		},
	}
}

func newEnqueueCmd(flags *rootFlags) *cobra.Command {
	var syncType string
	var priority int
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "enqueue <integration-id>",
		Short: "Queue a sync job for an integration",
		Long: `Queue a sync job directly in the configured store. Repeating the command before the
integration's data moves on returns the existing job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			ic, err := a.integrations.GetIntegration(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			job, created, err := a.jobs.AddJob(cmd.Context(), model.QueueSync, model.SyncJob{
				IntegrationID: ic.ID,
				SyncType:      model.SyncType(syncType),
				Priority:      priority,
				SourceVersion: integration.SourceVersion(ic),
			}, queue.JobOptions{Priority: priority, Delay: delay})
			if err != nil {
				return err
			}
			verb := "queued"
			if !created {
				verb = "already queued"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s job %s (%s, state %s)\n", verb, job.ID, job.Key, job.State)
			return nil
		},
	}
	cmd.Flags().StringVarP(&syncType, "type", "t", string(model.SyncFull), "Sync type (products, inventory, pricing, orders, full)")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Job priority; higher runs first")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes runnable")
	return cmd
}

func newMappingsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage field mappings",
	}
	var integrationID string
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace an integration's mappings from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := mapping.LoadFile(args[0])
			if err != nil {
				return err
			}
			id := integrationID
			if id == "" {
				id = file.IntegrationID
			}
			if id == "" {
				return fmt.Errorf("no integration id: pass --integration or set integrationId in %s", args[0])
			}
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			saved, err := a.integrations.SaveMappings(cmd.Context(), id, "", file.Flatten(id))
			if err != nil {
				return err
			}
			logger.Info("mappings imported", zap.String("integration", id), zap.Int("count", len(saved)))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d mappings into %s\n", len(saved), id)
			return nil
		},
	}
	importCmd.Flags().StringVarP(&integrationID, "integration", "i", "", "Integration id (overrides the file)")
	cmd.AddCommand(importCmd)
	return cmd
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token (hmac auth mode)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := v.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "Role (viewer, operator, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a credentials encryption key for SYNCGATE_SECRETS_KEY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
