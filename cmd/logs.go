package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/jcdickinson/rsindex/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon log file",
	Example: `  rsindex logs -n 100
  rsindex logs --conflicts
  rsindex logs -f`,
	Run: runLogs,
}

var (
	logsFollow    bool
	logsLines     int
	logsConflicts bool
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVar(&logsConflicts, "conflicts", false, "only show rejected conflicting registrations")
}

func runLogs(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("no log file found (daemon may not have run yet)")
		return
	}

	keep := func(line string) bool {
		return !logsConflicts || isConflictLine(line)
	}

	lines, err := lastLines(logPath, logsLines, keep)
	if err != nil {
		log.Fatalf("reading log: %v", err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	if !logsFollow {
		return
	}

	// The backlog is already printed; tail only new lines through the filter.
	tailCmd := exec.Command("tail", "-n", "0", "-f", logPath)
	tailCmd.Stderr = os.Stderr
	out, err := tailCmd.StdoutPipe()
	if err != nil {
		log.Fatalf("tail failed: %v", err)
	}
	if err := tailCmd.Start(); err != nil {
		log.Fatalf("tail failed: %v", err)
	}
	if err := copyLines(out, os.Stdout, keep); err != nil {
		log.Fatalf("following log: %v", err)
	}
	if err := tailCmd.Wait(); err != nil {
		log.Fatalf("tail failed: %v", err)
	}
}

func isConflictLine(line string) bool {
	return strings.Contains(line, "conflicting registration rejected")
}

// copyLines writes each line of r accepted by keep to w.
func copyLines(r io.Reader, w io.Writer, keep func(string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !keep(line) {
			continue
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// lastLines returns the last n lines of path accepted by keep.
func lastLines(path string, n int, keep func(string) bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ring []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !keep(line) {
			continue
		}
		ring = append(ring, line)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, sc.Err()
}
