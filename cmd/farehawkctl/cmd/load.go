package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/farehawk/internal/api"
	"github.com/opensource-finance/farehawk/internal/domain"
)

// client talks to a FareHawk server on behalf of one tenant.
type client struct {
	base   string
	tenant string
	http   *http.Client
}

func (c *client) post(path string, query url.Values, contentType string, body io.Reader, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodPost, u, body)
	if err != nil {
		return err
	}
	req.Header.Set(api.TenantIDHeader, c.tenant)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// NewLoadCommand returns the load command.
func NewLoadCommand() (cmd *cobra.Command) {
	var serverURL, tenant, file string
	var sample int
	var seed int64
	var limit int
	var timeout time.Duration

	cmd = &cobra.Command{
		Use:   "load",
		Short: "Load trips into a FareHawk server and print the anomaly report",
		Example: `farehawkctl load --tenant fleet-a --file trips.csv
farehawkctl load --tenant fleet-a --sample 500 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == domain.GlobalTenantID {
				return fmt.Errorf("tenant id %s is reserved", tenant)
			}
			if (file == "") == (sample == 0) {
				return fmt.Errorf("exactly one of --file or --sample is required")
			}

			c := &client{
				base:   strings.TrimRight(serverURL, "/"),
				tenant: tenant,
				http:   &http.Client{Timeout: timeout},
			}
			out := cmd.OutOrStdout()

			var ingested api.IngestResponse
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := c.post("/trips/import", nil, "text/csv", bytes.NewReader(data), &ingested); err != nil {
					return err
				}
			} else {
				q := url.Values{
					"count": {strconv.Itoa(sample)},
					"seed":  {strconv.FormatInt(seed, 10)},
				}
				if err := c.post("/trips/sample", q, "", nil, &ingested); err != nil {
					return err
				}
			}

			fmt.Fprintf(out, "Ingested %d trips for tenant %s\n", ingested.Ingested, tenant)
			for _, s := range ingested.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped line %d: %s\n", s.Line, s.Err)
			}

			var report api.ReportResponse
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if err := c.post("/detect", q, "", nil, &report); err != nil {
				return err
			}

			fmt.Fprintf(out, "Run %s: %d anomalies in %d trips\n", report.RunID, report.AnomalyCount, report.TotalAnalyzed)
			for _, a := range report.Anomalies {
				fmt.Fprintf(out, "  %-10s %-6s %s\n", a.TripID(), a.Type, a.Reason)
			}
			if len(report.Anomalies) < report.AnomalyCount {
				fmt.Fprintf(out, "  ... %d more\n", report.AnomalyCount-len(report.Anomalies))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "FareHawk server url")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id sent as "+api.TenantIDHeader)
	cmd.Flags().StringVar(&file, "file", "", "trip CSV to import")
	cmd.Flags().IntVar(&sample, "sample", 0, "number of generated trips to load instead of a file")
	cmd.Flags().Int64Var(&seed, "seed", 42, "seed for --sample")
	cmd.Flags().IntVar(&limit, "limit", 9, "anomalies to print; 0 prints all")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "HTTP timeout")

	if err := cmd.MarkFlagRequired("tenant"); err != nil {
		panic(err)
	}

	return cmd
}
