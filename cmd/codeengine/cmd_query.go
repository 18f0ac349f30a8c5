package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeengine/cmd/internal/typesearch"
	"github.com/lexcodex/codeengine/endpoint"
	"github.com/lexcodex/codeengine/framework"
	"github.com/lexcodex/codeengine/handlers"
	"github.com/lexcodex/codeengine/server"
)

func apiClient() (*server.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	addr, err := apiAddr(cfg)
	if err != nil {
		return nil, err
	}
	return server.NewClient(addr), nil
}

func newFindCmd() *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "find <query...>",
		Short: "Search types in a running engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient()
			if err != nil {
				return err
			}
			refs, err := client.Find(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), refs)
			}
			printReferences(cmd.OutOrStdout(), refs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (server default when 0)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of pipe-separated lines")
	return cmd
}

func printReferences(w io.Writer, refs []framework.CodeReference) {
	for _, r := range refs {
		fmt.Fprintln(w, handlers.FormatReference(r))
	}
}

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <query>",
		Short: "Fuzzy-search indexed files in a running engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient()
			if err != nil {
				return err
			}
			files, err := client.Files(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f.File)
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index counts of a running engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient()
			if err != nil {
				return err
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), stats)
		},
	}
}

func newTypeSearchCmd() *cobra.Command {
	var limit int
	var jump bool
	cmd := &cobra.Command{
		Use:   "typesearch",
		Short: "Interactive type search",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient()
			if err != nil {
				return err
			}
			ref, ok, err := typesearch.Run(cmd.Context(), client, limit)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), typesearch.Location(ref))
			if !jump {
				return nil
			}
			if err := client.Command(cmd.Context(), gotoCommand(ref)); err != nil {
				return errors.Join(errors.New("goto failed"), err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum results per query")
	cmd.Flags().BoolVar(&jump, "goto", false, "Ask the connected editor to open the chosen type")
	return cmd
}

func gotoCommand(ref framework.CodeReference) string {
	target := fmt.Sprintf("%s|%d|%d", ref.File, ref.Line, ref.Column)
	return endpoint.CommandMessage{Command: "goto", Arguments: []string{target}}.String()
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
