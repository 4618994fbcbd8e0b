package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gemini-kit/gk/pkg/config"
	"github.com/gemini-kit/gk/pkg/paths"
	"github.com/gemini-kit/gk/pkg/presenter"
)

type ConfigSetConfig struct {
	Global bool
	DryRun bool
}

func NewConfigSetConfig() *ConfigSetConfig {
	return &ConfigSetConfig{
		Global: false,
		DryRun: false,
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and edit gk configuration",
	Long: `Show and edit gk configuration.

Values cascade from built-in defaults, to the global file in the state
directory (~/.gk/config.yaml), to the project file (.gk/config.yaml), to GK_*
environment variables such as GK_SESSION_MAX_DEPTH. Layer files may be YAML,
JSON or TOML.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		a := mustLoadApp()
		sources, _ := cmd.Flags().GetBool("sources")
		exitOnError(showConfigCmd(a, sources, os.Stdout), "Failed to show configuration")
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a dotted key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		exitOnError(getConfigCmd(a, args[0], os.Stdout), "Failed to read configuration")
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the project (or global) config file",
	Long: `Set a value in the project config file, or in the global one with --global.
Values are typed: true/false, numbers, and [a,b] lists are recognised.

Examples:
  gk config set notify.enabled true --global
  gk config set notify.events "[session_*,subagent_stop]"
  gk config set mmio.models.analyze gemini-2.5-pro --dry-run`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLoadApp()
		config := getConfigSetConfigFromFlags(cmd)
		exitOnError(setConfigCmd(a, args[0], args[1], config, os.Stdout), "Failed to update configuration")
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of config files",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		schema, err := config.Schema()
		exitOnError(err, "Failed to generate schema")
		fmt.Println(string(schema))
	},
}

func init() {
	configShowCmd.Flags().Bool("sources", false, "Show which layer supplies each value")

	setDefaults := NewConfigSetConfig()
	configSetCmd.Flags().BoolP("global", "g", setDefaults.Global, "Write to the global config file instead of the project one")
	configSetCmd.Flags().Bool("dry-run", setDefaults.DryRun, "Show the change as a diff without writing it")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}

func getConfigSetConfigFromFlags(cmd *cobra.Command) *ConfigSetConfig {
	config := NewConfigSetConfig()
	if global, err := cmd.Flags().GetBool("global"); err == nil {
		config.Global = global
	}
	if dryRun, err := cmd.Flags().GetBool("dry-run"); err == nil {
		config.DryRun = dryRun
	}
	return config
}

func showConfigCmd(a *app, sources bool, out io.Writer) error {
	if !sources {
		data, err := yaml.Marshal(a.cfg)
		if err != nil {
			return errors.Wrap(err, "failed to encode configuration")
		}
		_, err = out.Write(data)
		return err
	}

	for _, layer := range a.loaded.Layers {
		if layer.Path != "" {
			fmt.Fprintf(out, "# %s: %s\n", layer.Name, layer.Path)
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
	for _, key := range leafKeys(a.loaded.Merged, "") {
		value, _ := a.loaded.Get(key)
		fmt.Fprintf(w, "%s\t%v\t%s\n", key, value, a.loaded.Origin(key))
	}
	return w.Flush()
}

func getConfigCmd(a *app, key string, out io.Writer) error {
	value, ok := a.loaded.Get(key)
	if !ok {
		return errors.Errorf("unknown config key %q", key)
	}
	switch v := value.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to encode value")
		}
		_, err = out.Write(data)
		return err
	default:
		fmt.Fprintln(out, v)
		return nil
	}
}

func setConfigCmd(a *app, key, value string, setConfig *ConfigSetConfig, out io.Writer) error {
	dir := paths.LocalDir(a.projectRoot)
	if setConfig.Global {
		dir = a.cfg.StateDir
	}

	edit, err := config.PlanSet(config.DefaultLayerPath(dir), key, value)
	if err != nil {
		return err
	}

	if setConfig.DryRun {
		fmt.Fprint(out, edit.Diff())
		return nil
	}
	if err := edit.Apply(); err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("Set %s = %v in %s", key, edit.Value, edit.Path))
	if origin := envOverride(key); origin != "" {
		presenter.Warning(fmt.Sprintf("%s is set and overrides this value", origin))
	}
	return nil
}

// leafKeys flattens nested maps into sorted dotted keys.
func leafKeys(m map[string]any, prefix string) []string {
	var keys []string
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			keys = append(keys, leafKeys(nested, key)...)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func envOverride(key string) string {
	name := config.EnvVar(key)
	if _, ok := os.LookupEnv(name); ok {
		return name
	}
	return ""
}
