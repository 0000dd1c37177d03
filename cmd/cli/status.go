package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <bulk_scan_id>",
	Short: "Report a bulk scan's live progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusResponse struct {
	BulkScanID string `json:"bulk_scan_id"`
	ETASeconds int64  `json:"eta_seconds"`
	ETAKnown   bool   `json:"eta_known"`
}

func runStatus(_ *cobra.Command, args []string) error {
	bulkScanID := args[0]

	url := fmt.Sprintf("http://%s/api/v1/bulk-scans/%s", apiAddress(), bulkScanID)
	client := &http.Client{Timeout: apiRequestTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("calling controller API: %w", err)
	}
	defer resp.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}

	eta := "unknown"
	if status.ETAKnown {
		eta = fmt.Sprintf("%ds", status.ETASeconds)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Bulk Scan ID", "ETA")
	_ = table.Append([]string{status.BulkScanID, eta})
	_ = table.Render()
	return nil
}
