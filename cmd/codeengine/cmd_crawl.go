package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeengine/caching"
	"github.com/lexcodex/codeengine/crawl"
	"github.com/lexcodex/codeengine/framework"
)

// crawlReport summarizes a local crawl.
type crawlReport struct {
	Lines      int                       `json:"lines"`
	Failed     int                       `json:"failed"`
	Projects   int                       `json:"projects"`
	Files      int                       `json:"files"`
	References int                       `json:"references"`
	Matches    []framework.CodeReference `json:"matches,omitempty"`
}

func newCrawlCmd() *cobra.Command {
	var query string
	var limit int
	var verbose bool
	cmd := &cobra.Command{
		Use:   "crawl <file|dir|->",
		Short: "Decode crawler output locally and report what it indexed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(io.Discard, "", 0)
			if verbose {
				logger = log.New(cmd.ErrOrStderr(), "crawl ", 0)
			}
			cache := caching.NewTypeCache()
			decoder := crawl.NewDecoder(cache, logger)

			var report crawlReport
			err := eachCrawlInput(args[0], cmd.InOrStdin(), func(name string, r io.Reader) error {
				stats, err := decoder.Feed(cmd.Context(), r)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				report.Lines += stats.Lines
				report.Failed += stats.Failed
				return nil
			})
			if err != nil {
				return err
			}
			report.Projects = cache.ProjectCount()
			report.Files = cache.FileCount()
			report.References = cache.CodeReferenceCount()
			if query != "" {
				if limit > 0 {
					report.Matches = cache.FindLimit(query, limit)
				} else {
					report.Matches = cache.Find(query)
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&query, "find", "", "Run a type search against the decoded index")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum matches for --find (0 for all)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log crawler diagnostics to stderr")
	return cmd
}

// eachCrawlInput feeds stdin for "-", the file itself, or every regular file
// under a directory in lexical order.
func eachCrawlInput(target string, stdin io.Reader, fn func(name string, r io.Reader) error) error {
	if target == "-" {
		return fn("stdin", stdin)
	}
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return feedFile(target, fn)
	}
	return filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return feedFile(path, fn)
	})
}

func feedFile(path string, fn func(name string, r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(path, f)
}
