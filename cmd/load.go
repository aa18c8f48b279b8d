package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcdickinson/rsindex/internal/fragment"
	"github.com/jcdickinson/rsindex/internal/index"
	"github.com/jcdickinson/rsindex/internal/rpc"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <doc-dir>",
	Short: "Load every fragment under a rustdoc output directory",
	Long: `Walk a rustdoc output directory (usually target/doc) and register every
implementors/**/*.js and sidebar-items.js fragment with the daemon. Fragments are
buffered until the index is activated.`,
	Example: `  rsindex load target/doc
  rsindex load --activate target/doc`,
	Args: cobra.ExactArgs(1),
	Run:  runLoad,
}

var loadActivate bool

func init() {
	loadCmd.Flags().BoolVar(&loadActivate, "activate", false, "activate the index once loading finishes")
}

func runLoad(cmd *cobra.Command, args []string) {
	root, err := filepath.Abs(args[0])
	if err != nil {
		slog.Error("invalid directory", "error", err)
		os.Exit(1)
	}

	client := mustConnect()
	stats, err := client.Load(context.Background(), rpc.LoadRequest{Root: root, Activate: loadActivate}, func(msg string) {
		fmt.Printf("  %s\n", msg)
	})
	if err != nil {
		slog.Error("load failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("%d files: %d implementors, %d sidebars, %d skipped\n",
		stats.Files, stats.Implementors, stats.Sidebars, stats.Skipped)
}

var registerCmd = &cobra.Command{
	Use:   "register <trait> <module> [entry ...]",
	Short: "Register one module's contribution to a trait",
	Long:  `Register one module's implementor entries for a trait. With no entries, registers an explicit empty contribution.`,
	Example: `  rsindex register core::ops::bit::BitAnd bitflags "impl BitAnd for Flags"
  rsindex register core::marker::Send mycrate`,
	Args: cobra.MinimumNArgs(2),
	Run:  runRegister,
}

func runRegister(cmd *cobra.Command, args []string) {
	entries := index.Contribution(args[2:]).Clone()

	client := mustConnect()
	resp, err := client.RegisterImplementors(context.Background(), args[0], args[1], entries)
	if err != nil {
		slog.Error("register failed", "error", err)
		os.Exit(1)
	}
	printRegistered(resp)
}

var registerFileCmd = &cobra.Command{
	Use:   "register-file <file> ...",
	Short: "Register fragment files",
	Long: `Parse and register individual fragment files. Rustdoc .js files (optionally .zst
compressed) take their trait or module key from their path relative to --root;
.json files hold a fragment in its JSON form.`,
	Example: `  rsindex register-file --root target/doc target/doc/implementors/core/clone/trait.Clone.js
  rsindex register-file fragment.json`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRegisterFile,
}

var registerFileRoot string

func init() {
	registerFileCmd.Flags().StringVar(&registerFileRoot, "root", ".", "rustdoc output directory the files live under")
}

func readFragment(root, path string) (fragment.Fragment, error) {
	if strings.HasSuffix(path, ".json") {
		f, err := os.Open(path)
		if err != nil {
			return fragment.Fragment{}, err
		}
		defer f.Close()
		return fragment.DecodeJSON(f)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fragment.Fragment{}, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fragment.Fragment{}, err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fragment.Fragment{}, fmt.Errorf("%s is not under %s", path, root)
	}
	return fragment.ParseFile(absRoot, rel)
}

func runRegisterFile(cmd *cobra.Command, args []string) {
	client := mustConnect()
	failed := false
	for _, path := range args {
		f, err := readFragment(registerFileRoot, path)
		if err != nil {
			slog.Error("reading fragment failed", "file", path, "error", err)
			failed = true
			continue
		}
		resp, err := client.RegisterFragment(context.Background(), f)
		if err != nil {
			slog.Error("register failed", "file", path, "error", err)
			failed = true
			continue
		}
		fmt.Printf("  %s: ", path)
		printRegistered(resp)
	}
	if failed {
		os.Exit(1)
	}
}

func printRegistered(resp *rpc.RegisterResponse) {
	if resp.State == index.StateActive.String() {
		fmt.Println("merged")
		return
	}
	fmt.Printf("buffered (%d pending)\n", resp.Pending)
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate the index, adopting every buffered fragment",
	Run:   runActivate,
}

func runActivate(cmd *cobra.Command, args []string) {
	client := mustConnect()
	resp, err := client.Activate(context.Background())
	if err != nil {
		slog.Error("activate failed", "error", err)
		os.Exit(1)
	}
	if resp.Activated {
		fmt.Println("index activated")
		return
	}
	fmt.Printf("index already %s\n", resp.State)
}
