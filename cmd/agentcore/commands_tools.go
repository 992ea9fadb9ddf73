package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/spf13/cobra"
)

// =============================================================================
// Tools Commands
// =============================================================================

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		noDesktop bool
		agentName string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools offered to agents",
		Example: `  # Every registered tool
  agentcore tools list

  # What an agent sees without desktop control
  agentcore tools list --agent researcher --no-desktop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			catalog, err := buildCatalog(cfg)
			if err != nil {
				return err
			}

			var enabled []string
			if agentName != "" {
				a, ok := cfg.FindAgent(agentName)
				if !ok {
					return fmt.Errorf("unknown agent %q", agentName)
				}
				enabled = a.Configuration.EnabledTools
			}

			if asJSON {
				schemas := catalog.ListFor(enabled)
				if noDesktop {
					schemas = catalog.ListExcludingDesktopControl(enabled)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(schemas)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRISK\tCATEGORY\tDESCRIPTION")
			for _, def := range catalog.Definitions(enabled) {
				if noDesktop && tools.IsDesktopControl(def.Name) {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, def.Risk, def.Category, truncateRunes(def.Description, 72))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&noDesktop, "no-desktop", false, "Exclude pointer, keyboard and app launch tools")
	cmd.Flags().StringVar(&agentName, "agent", "", "Show only the tools enabled for this agent")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the schemas sent to providers")
	return cmd
}
