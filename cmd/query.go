package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jcdickinson/rsindex/internal/config"
	"github.com/jcdickinson/rsindex/internal/daemon"
	"github.com/jcdickinson/rsindex/internal/markdown"
	"github.com/spf13/cobra"
)

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

var implementorsCmd = &cobra.Command{
	Use:   "implementors <trait>",
	Short: "List the implementors of a trait",
	Example: `  rsindex implementors core::ops::bit::BitAnd
  rsindex implementors --markdown core::clone::Clone > Clone.md`,
	Args: cobra.ExactArgs(1),
	Run:  runImplementors,
}

var (
	implementorsJSON     bool
	implementorsMarkdown bool
	implementorsHTML     bool
)

func init() {
	implementorsCmd.Flags().BoolVar(&implementorsJSON, "json", false, "output as JSON")
	implementorsCmd.Flags().BoolVar(&implementorsMarkdown, "markdown", false, "output as markdown")
	implementorsCmd.Flags().BoolVar(&implementorsHTML, "html", false, "output as HTML")
	implementorsCmd.MarkFlagsMutuallyExclusive("json", "markdown", "html")
}

func runImplementors(cmd *cobra.Command, args []string) {
	client := mustConnect()
	resp, err := client.Implementors(context.Background(), args[0])
	if err != nil {
		slog.Error("listing implementors failed", "error", err)
		os.Exit(1)
	}

	switch {
	case implementorsJSON:
		printJSON(resp)
	case implementorsMarkdown:
		fmt.Print(markdown.RenderImplementors(resp.Trait, resp.Modules))
	case implementorsHTML:
		fmt.Print(markdown.ToHTML(markdown.RenderImplementors(resp.Trait, resp.Modules)))
	default:
		if len(resp.Modules) == 0 {
			fmt.Println("no implementors (is the index active?)")
			return
		}
		for _, mc := range resp.Modules {
			fmt.Printf("%s (%d)\n", mc.Module, len(mc.Entries))
			for _, entry := range mc.Entries {
				fmt.Printf("  %s\n", entry)
			}
		}
	}
}

var sidebarCmd = &cobra.Command{
	Use:     "sidebar <module>",
	Short:   "List a module's sidebar items",
	Example: `  rsindex sidebar style::str`,
	Args:    cobra.ExactArgs(1),
	Run:     runSidebar,
}

var sidebarJSON bool

func init() {
	sidebarCmd.Flags().BoolVar(&sidebarJSON, "json", false, "output as JSON")
}

func runSidebar(cmd *cobra.Command, args []string) {
	client := mustConnect()
	resp, err := client.Sidebar(context.Background(), args[0])
	if err != nil {
		slog.Error("reading sidebar failed", "error", err)
		os.Exit(1)
	}

	if sidebarJSON {
		printJSON(resp)
		return
	}
	if resp.Items.Len() == 0 {
		fmt.Println("no sidebar items")
		return
	}
	for _, cat := range resp.Items.Categories() {
		entries := resp.Items[cat]
		if len(entries) == 0 {
			continue
		}
		fmt.Printf("%s\n", cat)
		for _, e := range entries {
			if e.Description != "" {
				fmt.Printf("  %-30s %s\n", e.Name, e.Description)
			} else {
				fmt.Printf("  %s\n", e.Name)
			}
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index state and daemon status",
	Run:   runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	client := mustConnect()
	resp, err := client.Status(context.Background())
	if err != nil {
		slog.Error("status failed", "error", err)
		os.Exit(1)
	}

	if statusJSON {
		printJSON(resp)
		return
	}

	fmt.Printf("state:     %s\n", resp.State)
	fmt.Printf("pending:   %d\n", resp.Pending)
	fmt.Printf("traits:    %d\n", resp.Traits)
	fmt.Printf("modules:   %d\n", resp.Modules)
	if resp.LastSave != nil {
		fmt.Printf("last save: #%d at %s\n", resp.LastSave.ID, resp.LastSave.SavedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("conflicts: %d\n", len(resp.Conflicts))
	for _, c := range resp.Conflicts {
		if c.Trait == "" {
			fmt.Printf("  sidebar %s: kept %.12s, rejected %.12s\n", c.Module, c.KeptHash, c.RejectedHash)
		} else {
			fmt.Printf("  %s in %s: kept %.12s, rejected %.12s\n", c.Module, c.Trait, c.KeptHash, c.RejectedHash)
		}
	}
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist the active index",
	Run:   runSave,
}

func runSave(cmd *cobra.Command, args []string) {
	client := mustConnect()
	resp, err := client.Save(context.Background())
	if err != nil {
		slog.Error("save failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("saved #%d: %d traits, %d contributions, %d sidebars\n",
		resp.Save.ID, resp.Save.Traits, resp.Save.Contributions, resp.Save.Sidebars)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	// The daemon may exit before the response is fully read.
	client.Shutdown(context.Background())
	fmt.Println("daemon stopped")
}
