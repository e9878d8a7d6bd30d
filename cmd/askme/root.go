package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/askme/internal/config"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configDir string
	backend   string
	storage   string
	dbPath    string
	logLevel  string
	noColor   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "askme",
		Short: "Chat with a streaming completion backend",
		Long: "askme keeps several conversations with a completion service, streams replies as they\n" +
			"arrive and remembers every conversation between runs.",
		// Running askme with no subcommand starts the chat.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configDir, "config-dir", "", "configuration directory (default <user config dir>/askme)")
	pf.StringVar(&flags.backend, "backend", "", "backend base URL (overrides config and environment)")
	pf.StringVar(&flags.storage, "storage", "", "session storage driver: file, sqlite or memory")
	pf.StringVar(&flags.dbPath, "db", "", "session file or database path")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(newSessionsCmd(flags))
	rootCmd.AddCommand(newConfigCmd(flags))
	return rootCmd
}

func (f *rootFlags) manager() (*config.Manager, error) {
	if f.configDir != "" {
		return config.NewManagerAt(f.configDir), nil
	}
	return config.NewManager()
}

// resolveConfig layers defaults, config file, environment and flags, in that order.
func resolveConfig(flags *rootFlags) (*config.Manager, *config.Config, error) {
	m, err := flags.manager()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := m.Load()
	if err != nil {
		return nil, nil, err
	}
	config.ApplyEnv(cfg, os.Getenv)

	if flags.backend != "" {
		cfg.BackendURL = flags.backend
	}
	if flags.storage != "" {
		cfg.Storage.Driver = flags.storage
	}
	if flags.dbPath != "" {
		cfg.Storage.Path = flags.dbPath
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	// Switching to sqlite without naming a database should not reuse the JSON file.
	if cfg.Storage.Driver == "sqlite" && filepath.Ext(cfg.Storage.Path) == ".json" {
		cfg.Storage.Path = filepath.Join(m.Dir(), "askme.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return m, cfg, nil
}

func runChat(ctx context.Context, flags *rootFlags) error {
	m, cfg, err := resolveConfig(flags)
	if err != nil {
		return err
	}

	editor, err := newLineEditor(lineEditorConfig{
		HistoryFile: filepath.Join(m.Dir(), "history"),
		Commands:    commandNames(),
	})
	if err != nil {
		return err
	}
	defer editor.Close()

	th := newTheme(!flags.noColor)
	printer := newPrinter(editor.Output(), th)

	a, err := openApp(ctx, cfg, m.Dir(), printer)
	if err != nil {
		return err
	}
	defer a.Close()

	r := newREPL(a.store, editor, printer, th)
	return r.run(ctx)
}
