package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/qaenablers/qautils/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Settings inspection",
	}

	cmd.AddCommand(
		configShowCmd(),
		configEnvCmd(),
	)

	return cmd
}

// configShowCmd shows the effective settings with source information
func configShowCmd() *cobra.Command {
	var (
		format      string
		showSources bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings and their sources",
		Long: `Display the effective settings with optional source information.
Sensitive values are redacted. The source column shows whether a value came
from the defaults, the settings file, the environment or a CLI flag.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager := config.ManagerFromContext(cmd.Context())
			settings := manager.Get()
			if settings == nil {
				settings = config.Default()
			}
			return formatConfigOutput(cmd.OutOrStdout(), settings, manager.Service, format, showSources)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (json, yaml, table)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Show the source of each value")
	return cmd
}

// configEnvCmd lists the environment variables bound to settings
func configEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables that override settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VARIABLE\tSETTING")
			fmt.Fprintln(w, "--------\t-------")
			for _, m := range config.GenerateEnvMappings() {
				fmt.Fprintf(w, "%s\t%s\n", m.EnvVar, m.ConfigPath)
			}
			fmt.Fprintf(w, "%sSERVICES__<NAME>__<FIELD>\tservices.<name>.<field>\n", config.EnvPrefix)
			return w.Flush()
		},
	}
}

func formatConfigOutput(
	w io.Writer,
	settings *config.Settings,
	service config.Service,
	format string,
	showSources bool,
) error {
	doc, err := settingsDocument(settings)
	if err != nil {
		return err
	}
	sources := collectSources(doc, service)
	switch format {
	case "json":
		return outputJSON(w, doc, sources, showSources)
	case "yaml":
		return outputYAML(w, doc, sources, showSources)
	case "table":
		return outputTable(w, doc, sources, showSources)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// settingsDocument converts settings to a generic document keyed like the
// settings file. Sensitive values are already redacted in the result.
func settingsDocument(settings *config.Settings) (map[string]any, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return doc, nil
}

func collectSources(doc map[string]any, service config.Service) map[string]config.SourceType {
	sources := make(map[string]config.SourceType)
	if service == nil {
		return sources
	}
	for key := range flattenDocument(doc) {
		sources[key] = service.GetSource(key)
	}
	return sources
}

func outputJSON(w io.Writer, doc map[string]any, sources map[string]config.SourceType, showSources bool) error {
	var out any = doc
	if showSources {
		out = map[string]any{"settings": doc, "sources": sources}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func outputYAML(w io.Writer, doc map[string]any, sources map[string]config.SourceType, showSources bool) error {
	var out any = doc
	if showSources {
		out = map[string]any{"settings": doc, "sources": sources}
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return err
	}
	return encoder.Close()
}

func outputTable(w io.Writer, doc map[string]any, sources map[string]config.SourceType, showSources bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	flat := flattenDocument(doc)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if showSources {
		fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
		fmt.Fprintln(tw, "---\t-----\t------")
	} else {
		fmt.Fprintln(tw, "KEY\tVALUE")
		fmt.Fprintln(tw, "---\t-----")
	}

	for _, key := range keys {
		if showSources {
			source := sources[key]
			if source == "" {
				source = config.SourceDefault
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", key, flat[key], source)
		} else {
			fmt.Fprintf(tw, "%s\t%s\n", key, flat[key])
		}
	}

	return tw.Flush()
}

// flattenDocument converts a nested document to dotted keys. Lists are
// joined with commas.
func flattenDocument(doc map[string]any) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]string, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(out, key, child)
		}
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
}
