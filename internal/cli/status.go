package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoangnd/queuemedic/internal/core/config"
	"github.com/hoangnd/queuemedic/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show failed and dead-lettered items from a running instance",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func adminURL(cfg *config.AppConfig, path string) string {
	return fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, path)
}

func fetchRecords(url string) ([]*domain.RetryRecord, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	var records []*domain.RetryRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return records, nil
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	failed, err := fetchRecords(adminURL(cfg, "/api/failed"))
	if err != nil {
		slog.Error("Failed to fetch failed items", "error", err)
		os.Exit(1)
	}
	dead, err := fetchRecords(adminURL(cfg, "/api/deadletter"))
	if err != nil {
		slog.Error("Failed to fetch dead letter items", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tSTATUS\tCATEGORY\tSEVERITY\tATTEMPTS\tNEXT ELIGIBLE\tLAST ERROR")
	for _, rec := range append(failed, dead...) {
		eligible := "-"
		if !rec.NextEligibleTime.IsZero() {
			eligible = rec.NextEligibleTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ItemID, rec.Status, rec.Category, rec.Severity,
			rec.AttemptCount, eligible, rec.LastError)
	}
	w.Flush()

	fmt.Printf("\n%d failed, %d in dead letter\n", len(failed), len(dead))
}
