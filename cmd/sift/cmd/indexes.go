package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/output"
)

func newIndexesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "indexes",
		Aliases: []string{"index-list"},
		Short:   "List, add, or switch between named indexes",
	}

	cmd.AddCommand(newIndexesListCmd())
	cmd.AddCommand(newIndexesAddCmd())
	cmd.AddCommand(newIndexesSwitchCmd())
	return cmd
}

func newIndexesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexesList(cmd)
		},
	}
}

func newIndexesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Register a named index at a storage path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexesAdd(cmd, args[0], args[1])
		},
	}
}

func newIndexesSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <name>",
		Short: "Make a registered index the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexesSwitch(cmd, args[0])
		},
	}
}

func runIndexesList(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := daemonClient(cfg)
	if client.IsRunning() {
		resp, err := client.ListIndexes()
		if err != nil {
			return fmt.Errorf("list indexes via daemon: %w", err)
		}
		for _, entry := range resp.Indexes {
			marker := "  "
			if entry.IsActive {
				marker = "* "
			}
			out.Status("", fmt.Sprintf("%s%s -> %s (%d files)", marker, entry.Name, entry.Path, entry.FileCount))
		}
		return nil
	}

	if len(cfg.Indexes) == 0 {
		out.Status("", "No indexes configured")
		return nil
	}
	for name, path := range cfg.Indexes {
		marker := "  "
		if name == cfg.Daemon.DefaultIndex {
			marker = "* "
		}
		out.Status("", fmt.Sprintf("%s%s -> %s", marker, name, path))
	}
	return nil
}

func runIndexesAdd(cmd *cobra.Command, name, path string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Indexes == nil {
		cfg.Indexes = make(map[string]string)
	}
	cfg.Indexes[name] = path

	if err := persistUserConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out.Success(fmt.Sprintf("Registered index %q at %s", name, path))
	out.Status("", "Restart the daemon (or run `sift index` directly against it) to pick up the change")
	return nil
}

func runIndexesSwitch(cmd *cobra.Command, name string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, ok := cfg.Indexes[name]; !ok {
		return fmt.Errorf("unknown index %q (run `sift indexes list`)", name)
	}

	client := daemonClient(cfg)
	if client.IsRunning() {
		active, err := client.SwitchIndex(name)
		if err != nil {
			return fmt.Errorf("switch index via daemon: %w", err)
		}
		out.Success(fmt.Sprintf("Active index is now %q", active))
		return nil
	}

	cfg.Daemon.DefaultIndex = name
	if err := persistUserConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	out.Success(fmt.Sprintf("Default index is now %q", name))
	return nil
}

// persistUserConfig writes the full config back to the user-global config
// file, so that indexes registered from one project directory are visible
// from any other (spec §4.8 precedence still lets project config override).
func persistUserConfig(cfg *config.Config) error {
	path := config.GetUserConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return cfg.WriteYAML(path)
}
