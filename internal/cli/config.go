// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configName is the base name of the config file under ~/.config.
const configName = "hubstats"

// DefaultConfig returns the default configuration. Keys are flag names;
// a key applies to every command that has a flag of that name.
func DefaultConfig() map[string]any {
	return map[string]any{
		"token":           "",
		"endpoint":        "https://huggingface.co",
		"snapshot-dir":    "data/snapshots",
		"output-dir":      "data/clean",
		"table":           "models",
		"repo":            "cfahlgren1/hub-stats",
		"revision":        "main",
		"candidates":      []string{"models.parquet", "models.csv"},
		"lister":          "auto",
		"codec":           "zstd",
		"duplicate-dates": "error",
		"top":             10,
		"log-level":       "info",
	}
}

// configCandidates lists the default config paths, in lookup order.
func configCandidates() []string {
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, ".config")
	return []string{
		filepath.Join(dir, configName+".json"),
		filepath.Join(dir, configName+".yaml"),
		filepath.Join(dir, configName+".yml"),
	}
}

// findConfig returns the first existing default config path, or "".
func findConfig() string {
	for _, p := range configCandidates() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig reads a JSON or YAML config file by extension.
func loadConfig(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	default: // .json or unknown
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}
	return cfg, nil
}

// applySettingsDefaults sets every flag of cmd that was not given on the
// command line from the config file. The token is only taken from the
// file when neither --token nor HF_TOKEN is set.
func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts) error {
	path := ro.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flags := cmd.Flags()
	for _, k := range keys {
		v := cfg[k]
		if v == nil || k == "token" || k == "config" {
			continue
		}
		f := flags.Lookup(k)
		if f == nil || f.Changed {
			continue
		}
		if err := flags.Set(k, configValue(v)); err != nil {
			return fmt.Errorf("config %s: key %q: %w", path, k, err)
		}
	}

	if !flags.Changed("token") && os.Getenv("HF_TOKEN") == "" {
		if v, ok := cfg["token"]; ok && v != nil {
			ro.Token = fmt.Sprint(v)
		}
	}
	return nil
}

// configValue renders a decoded config value as a flag value. Lists become
// comma-separated.
func configValue(v any) string {
	switch x := v.(type) {
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	case float64:
		// JSON numbers
		if x == float64(int64(x)) {
			return fmt.Sprint(int64(x))
		}
	}
	return fmt.Sprint(v)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/hubstats.json (or .yaml)

Keys are flag names and set the defaults of every command with that flag.
CLI flags always override config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("could not find home directory: %w", err)
			}

			configDir := filepath.Join(home, ".config")
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			configPath := filepath.Join(configDir, configName+ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := DefaultConfig()
			var data []byte
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(configPath, data, 0o600); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			fmt.Printf("Created config file: %s\n", configPath)
			fmt.Println()
			fmt.Println("Edit this file to set your defaults. For example:")
			fmt.Println("  - Set your Hugging Face token")
			fmt.Println("  - Change the snapshot and output directories")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := findConfig()
			if configPath == "" {
				fmt.Println("No config file found.")
				fmt.Printf("Run 'hubstats config init' to create one at:\n  %s\n", configCandidates()[0])
				return nil
			}

			data, err := os.ReadFile(configPath)
			if err != nil {
				return err
			}

			fmt.Printf("Config file: %s\n\n", configPath)
			fmt.Println(string(data))
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			if p := findConfig(); p != "" {
				fmt.Println(p)
				return
			}
			fmt.Println(configCandidates()[0])
		},
	}
}
