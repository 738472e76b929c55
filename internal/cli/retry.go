package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoangnd/queuemedic/internal/core/config"
)

var retryCmd = &cobra.Command{
	Use:   "retry [item_id]",
	Short: "Force an immediate retry for one item, reviving it from the dead letter if needed",
	Args:  cobra.ExactArgs(1),
	Run:   runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) {
	itemID := args[0]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Post(adminURL(cfg, "/api/retry/"+itemID), "application/json", nil)
	if err != nil {
		slog.Error("Failed to reach service", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		slog.Error("Retry rejected", "status", resp.StatusCode, "body", string(body))
		os.Exit(1)
	}
	fmt.Printf("Retry started for %s\n", itemID)
}
