package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const apiRequestTimeout = 30 * time.Second

var (
	triggerName      string
	triggerKind      string
	triggerTargets   string
	triggerTimeoutMS int
	triggerRetries   int
	triggerMonitored bool
	triggerNotifyURL string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a bulk scan",
	Long: `Trigger posts a raw, comma-separated target list to the controller's
API, publishing a new bulk scan under the given name and scan kind.`,
	Example: `  dispatchctl trigger --name nightly --kind tls --targets example.com,other.example:8443
  dispatchctl trigger --name nightly --kind tls --targets-file targets.txt --monitored`,
	RunE: runTrigger,
}

var triggerTargetsFile string

func init() {
	rootCmd.AddCommand(triggerCmd)

	triggerCmd.Flags().StringVar(&triggerName, "name", "", "bulk scan name (required)")
	triggerCmd.Flags().StringVar(&triggerKind, "kind", "tls", "registered probe kind to run")
	triggerCmd.Flags().StringVar(&triggerTargets, "targets", "", "comma-separated target list")
	triggerCmd.Flags().StringVar(&triggerTargetsFile, "targets-file", "", "file with one target per line")
	triggerCmd.Flags().IntVar(&triggerTimeoutMS, "timeout-ms", 10_000, "per-job scan timeout in milliseconds")
	triggerCmd.Flags().IntVar(&triggerRetries, "retries", 0, "per-target probe retries")
	triggerCmd.Flags().BoolVar(&triggerMonitored, "monitored", false, "track progress and finalize via the progress monitor")
	triggerCmd.Flags().StringVar(&triggerNotifyURL, "notify-url", "", "webhook URL fired on finalization")

	triggerCmd.MarkFlagsMutuallyExclusive("targets", "targets-file")
	_ = triggerCmd.MarkFlagRequired("name")
}

type triggerScanConfig struct {
	Kind           string   `json:"kind"`
	DetailLevel    string   `json:"detail_level"`
	Retries        int      `json:"retries"`
	TimeoutMS      int      `json:"timeout_ms"`
	ExcludedProbes []string `json:"excluded_probes"`
}

type triggerRequest struct {
	Name       string            `json:"name"`
	ScanConfig triggerScanConfig `json:"scan_config"`
	Monitored  bool              `json:"monitored"`
	NotifyURL  string            `json:"notify_url,omitempty"`
	Targets    []string          `json:"targets"`
}

type triggerResponse struct {
	BulkScanID string `json:"bulk_scan_id"`
	Targets    int    `json:"targets_given"`
	Published  int    `json:"scan_jobs_published"`
}

func runTrigger(_ *cobra.Command, _ []string) error {
	targets, err := resolveTargets()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets given: use --targets or --targets-file")
	}

	body := triggerRequest{
		Name: triggerName,
		ScanConfig: triggerScanConfig{
			Kind:      triggerKind,
			Retries:   triggerRetries,
			TimeoutMS: triggerTimeoutMS,
		},
		Monitored: triggerMonitored,
		NotifyURL: triggerNotifyURL,
		Targets:   targets,
	}

	var resp triggerResponse
	if err := postJSON("/api/v1/bulk-scans", body, &resp); err != nil {
		return err
	}

	fmt.Printf("bulk scan triggered: id=%s targets=%d\n", resp.BulkScanID, resp.Targets)
	return nil
}

func resolveTargets() ([]string, error) {
	if triggerTargetsFile != "" {
		data, err := os.ReadFile(triggerTargetsFile)
		if err != nil {
			return nil, fmt.Errorf("reading targets file: %w", err)
		}
		return splitNonEmptyLines(string(data)), nil
	}
	return splitCSV(triggerTargets), nil
}

func postJSON(path string, body, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", apiAddress(), path)
	client := &http.Client{Timeout: apiRequestTimeout}
	resp, err := client.Post(url, "application/json", buf)
	if err != nil {
		return fmt.Errorf("calling controller API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("controller API returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
