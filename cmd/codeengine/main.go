package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeengine/cmd/internal/enginecfg"
	"github.com/lexcodex/codeengine/endpoint"
	"github.com/lexcodex/codeengine/framework"
)

var (
	flagWorkspace string
	flagAPI       string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codeengine",
		Short:         "Code index engine for editors and terminal tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Workspace root holding codeengine_cfg/")
	root.PersistentFlags().StringVar(&flagAPI, "api", "", "HTTP API address (defaults to endpoints.api from the config)")

	root.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newFindCmd(),
		newFilesCmd(),
		newStatsCmd(),
		newSendCmd(),
		newEventsCmd(),
		newJournalCmd(),
		newTypeSearchCmd(),
		newInstancesCmd(),
		newTelemetryCmd(),
	)
	return root
}

func loadConfig() (*enginecfg.Config, error) {
	return enginecfg.Load(flagWorkspace)
}

// apiAddr prefers --api over the configured address.
func apiAddr(cfg *enginecfg.Config) (string, error) {
	if flagAPI != "" {
		return flagAPI, nil
	}
	if cfg.Endpoints.API == "" {
		return "", fmt.Errorf("no API address: pass --api or set endpoints.api")
	}
	return cfg.Endpoints.API, nil
}

// openLogger writes to path when set, else to stderr.
func openLogger(path string) (*log.Logger, io.Closer, error) {
	if path == "" {
		return log.New(os.Stderr, "codeengine ", log.LstdFlags), nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return log.New(f, "codeengine ", log.LstdFlags|log.Lmicroseconds), f, nil
}

// buildTelemetry logs every event and, when path is set, also appends it as
// JSON to that file.
func buildTelemetry(logger *log.Logger, path string) (framework.Telemetry, io.Closer, error) {
	sinks := []framework.Telemetry{framework.LoggerTelemetry{Logger: logger}}
	if path == "" {
		return framework.MultiplexTelemetry{Sinks: sinks}, nopCloser{}, nil
	}
	file, err := framework.NewJSONFileTelemetry(path)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, file)
	return framework.MultiplexTelemetry{Sinks: sinks}, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// commandAddr picks the address of a running engine's command port: addr if
// given, else the newest instance file registered for editorKey.
func commandAddr(addr, tempDir, editorKey string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	instances, err := endpoint.FindInstances(tempDir, editorKey)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		if editorKey == "" {
			return "", fmt.Errorf("no running codeengine found")
		}
		return "", fmt.Errorf("no running codeengine found for editor key %q", editorKey)
	}
	newest := instances[0]
	newestTime := modTime(newest.Path)
	for _, inst := range instances[1:] {
		if t := modTime(inst.Path); t.After(newestTime) {
			newest, newestTime = inst, t
		}
	}
	return fmt.Sprintf("127.0.0.1:%d", newest.Port), nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
