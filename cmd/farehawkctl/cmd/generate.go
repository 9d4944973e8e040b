package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/farehawk/internal/ingest"
)

// NewGenerateCommand returns the generate command.
func NewGenerateCommand() (cmd *cobra.Command) {
	var count int
	var seed int64
	var output string

	cmd = &cobra.Command{
		Use:     "generate",
		Short:   "Write deterministic sample trips as CSV",
		Example: `farehawkctl generate --count 500 --seed 7 -o trips.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if count < 1 {
				return fmt.Errorf("count must be positive, got %d", count)
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := f.Close(); err == nil {
						err = cerr
					}
				}()
				w = f
			}

			return ingest.WriteCSV(w, ingest.GenerateSample(count, seed))
		},
	}

	cmd.Flags().IntVar(&count, "count", ingest.DefaultSampleSize, "number of trips")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}
