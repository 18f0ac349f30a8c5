package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeengine/endpoint"
	"github.com/lexcodex/codeengine/framework"
	"github.com/lexcodex/codeengine/persistence"
)

func newJournalCmd() *cobra.Command {
	var limit int
	var path string
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Show events recorded in the SQLite journal, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Journal.Path
			}
			if path == "" {
				return errors.New("journal disabled: set journal.path or pass --path")
			}
			journal, err := persistence.OpenEventJournal(path)
			if err != nil {
				return err
			}
			defer journal.Close()
			entries, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Body)
			}
			return nil
		},
	}
	journalCmd.Flags().IntVar(&limit, "limit", 50, "Number of events to show (0 for all)")
	journalCmd.Flags().StringVar(&path, "path", "", "Journal database (defaults to journal.path)")
	return journalCmd
}

func newInstancesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List running engines registered in the temp directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if !all {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				key = cfg.EditorKey
			}
			instances, err := endpoint.FindInstances("", key)
			if err != nil {
				return err
			}
			for _, inst := range instances {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", inst.Port, inst.EditorKey, inst.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Ignore the configured editor key")
	return cmd
}

func newTelemetryCmd() *cobra.Command {
	var eventType string
	cmd := &cobra.Command{
		Use:   "telemetry [file]",
		Short: "Print the JSON telemetry log (defaults to logging.events)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Logging.Events
			}
			if path == "" {
				return errors.New("no telemetry file: set logging.events or pass a path")
			}
			events, err := framework.ReadTelemetryFile(path)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if eventType != "" && string(ev.Type) != eventType {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "Only show events of this type")
	return cmd
}
