package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/farehawk/internal/detect"
	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/ingest"
	"github.com/opensource-finance/farehawk/internal/rules"
)

// localTenant scopes rules loaded from a file in offline runs.
const localTenant = "local"

// ruleSpec is one entry of a --rules YAML file.
type ruleSpec struct {
	ID         string             `yaml:"id"`
	Name       string             `yaml:"name"`
	Expression string             `yaml:"expression"`
	Type       domain.AnomalyType `yaml:"type"`
	Reason     string             `yaml:"reason"`
	Priority   int                `yaml:"priority"`
	Enabled    *bool              `yaml:"enabled"`
}

// NewDetectCommand returns the detect command.
func NewDetectCommand() (cmd *cobra.Command) {
	var limit int
	var rulesPath string
	var asJSON bool

	cmd = &cobra.Command{
		Use:   "detect FILE",
		Short: "Detect anomalies in a trip CSV without a server",
		Long: `detect reads a canonical or raw trip CSV ("-" for stdin), runs the
detection pipeline over every trip and prints the report.`,
		Example: `farehawkctl detect trips.csv --limit 20 --rules rules.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			res, err := ingest.ReadCSV(in)
			if err != nil {
				return err
			}
			for _, s := range res.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped line %d: %s\n", s.Line, s.Err)
			}

			var opts []detect.Option
			if rulesPath != "" {
				heuristics, err := loadRules(rulesPath)
				if err != nil {
					return err
				}
				opts = append(opts, detect.WithHeuristics(heuristics...))
			}

			report, _ := detect.NewDetector(opts...).Run(res.Trips)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(out, report, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 9, "anomalies to print; 0 prints all")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "YAML file of extra heuristic rules")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")

	return cmd
}

// loadRules compiles the rules in a YAML file. Rules default to enabled.
func loadRules(path string) ([]detect.HeuristicRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []ruleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return nil, err
	}
	for _, s := range specs {
		cfg := &domain.HeuristicRuleConfig{
			ID:         s.ID,
			Name:       s.Name,
			Expression: s.Expression,
			Type:       s.Type,
			Reason:     s.Reason,
			Priority:   s.Priority,
			Enabled:    s.Enabled == nil || *s.Enabled,
		}
		if err := engine.LoadRule(localTenant, cfg); err != nil {
			return nil, err
		}
	}
	return engine.HeuristicRules(localTenant), nil
}

func printReport(w io.Writer, report *domain.AnomalyReport, limit int) error {
	byType := report.CountByType()
	fmt.Fprintf(w, "Analyzed %d trips in %.2f ms\n", report.TotalAnalyzed, report.ElapsedMs)
	fmt.Fprintf(w, "Anomalies: %d (fare %d, speed %d, ratio %d)\n",
		report.Count(), byType[domain.AnomalyFare], byType[domain.AnomalySpeed], byType[domain.AnomalyRatio])
	if report.Count() == 0 {
		return nil
	}

	head := report.Head(limit)
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIP\tTYPE\tFARE\tDISTANCE_KM\tSPEED_KMH\tREASON")
	for _, a := range head {
		t := a.Trip
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.1f\t%s\n", t.ID, a.Type, t.Fare, t.DistanceKm, t.SpeedKmh, a.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(head) < report.Count() {
		fmt.Fprintf(w, "... %d more\n", report.Count()-len(head))
	}
	return nil
}
