// Command structex inspects plugin registries and discovery state from the
// command line: list and describe discovered plugins, force a manifest
// rescan, and clear caches.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vivaneiona/structex"
)

var (
	manifestDirs []string
	cachePath    string
	verbose      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "structex",
		Short:         "Inspect extraction-pipeline plugins and caches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringSliceVarP(&manifestDirs, "dir", "d", defaultManifestDirs(), "manifest directories to scan")
	root.PersistentFlags().StringVar(&cachePath, "cache", defaultCachePath(), "discovery cache file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newPluginsCmd(), newCacheCmd())
	return root
}

func defaultManifestDirs() []string {
	if env := os.Getenv("STRUCTEX_PLUGIN_PATH"); env != "" {
		return filepath.SplitList(env)
	}
	return []string{"."}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "structex", "discovery.yaml")
}

func discover(force bool) (*structex.Registry, error) {
	reg := structex.NewRegistry()
	d := structex.NewDiscovery(cachePath, manifestDirs...)
	if _, err := d.Discover(reg, force); err != nil {
		return nil, err
	}
	return reg, nil
}

func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List, inspect and refresh discovered plugins",
	}
	cmd.AddCommand(newPluginsListCmd(), newPluginsInspectCmd(), newPluginsRefreshCmd())
	return cmd
}

func newPluginsListCmd() *cobra.Command {
	var kindFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins in waterfall order (priority desc, cost asc)",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := discover(false)
			if err != nil {
				return err
			}

			kinds := reg.ListKinds()
			if kindFilter != "" {
				kinds = []structex.Kind{structex.Kind(kindFilter)}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tPRIORITY\tCOST\tLOADED\tCAPABILITIES")
			for _, kind := range kinds {
				for _, d := range reg.Descriptors(kind) {
					fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%t\t%s\n",
						d.Kind, d.Name, d.Priority, d.Cost, d.Loaded,
						strings.Join(d.Capabilities, ","))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&kindFilter, "kind", "k", "", "limit to one capability kind")
	return cmd
}

func newPluginsInspectCmd() *cobra.Command {
	var health bool
	cmd := &cobra.Command{
		Use:   "inspect <kind> <name>",
		Short: "Show one plugin's full descriptor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := discover(false)
			if err != nil {
				return err
			}

			kind, name := structex.Kind(args[0]), args[1]
			if health {
				// Probing loads the plugin; run it before describing so
				// the printed status and loaded flag reflect the probe.
				reg.HealthCheck(kind, name)
			}
			desc, err := reg.Describe(kind, name)
			if err != nil {
				return err
			}

			out := map[string]any{
				"kind":         string(desc.Kind),
				"name":         desc.Name,
				"ref":          desc.Ref,
				"priority":     desc.Priority,
				"cost":         desc.Cost,
				"version":      desc.Version,
				"capabilities": desc.Capabilities,
				"loaded":       desc.Loaded,
				"health":       desc.Health.String(),
			}
			raw, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
	cmd.Flags().BoolVar(&health, "health", false, "probe the plugin before printing")
	return cmd
}

func newPluginsRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rescan manifests, ignoring the discovery cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := structex.NewRegistry()
			d := structex.NewDiscovery(cachePath, manifestDirs...)
			n, err := d.Discover(reg, true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discovered %d plugins from %s\n", n, strings.Join(manifestDirs, ", "))
			return nil
		},
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the discovery cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the discovery cache file",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := structex.NewDiscovery(cachePath)
			if err := d.ClearCache(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", cachePath)
			return nil
		},
	})
	return cmd
}
