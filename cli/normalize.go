package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/natefinch/atomic"
	"github.com/qaenablers/qautils/pkg/dataset"
	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

type normalizeOptions struct {
	table     string
	lenient   bool
	output    string
	maxLength int
}

// lenientOutput is the printed form of a dataset.Result.
type lenientOutput struct {
	Status string        `json:"status"`
	Record dataset.Value `json:"record"`
	Errors []string      `json:"errors,omitempty"`
}

// NormalizeCmd prepares fixture records.
func NormalizeCmd() *cobra.Command {
	opts := &normalizeOptions{}
	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Prepare a fixture record",
		Long: `Read a JSON record from file (or stdin when omitted), expand length
placeholders, drop missing parameters and infer datatypes.
With --table every row of a JSON or YAML fixture table is prepared.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.table, "table", "", "Fixture table file (.json, .yaml or .yml)")
	cmd.Flags().BoolVar(&opts.lenient, "lenient", false, "Print the partial result and its status instead of failing")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the result to a file instead of stdout")
	cmd.Flags().IntVar(&opts.maxLength, "max-length", dataset.DefaultMaxLength,
		"Largest generated placeholder length (0 disables the limit)")
	cmd.MarkFlagsMutuallyExclusive("table", "lenient")
	return cmd
}

func runNormalize(cmd *cobra.Command, args []string, opts *normalizeOptions) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	normalizer := dataset.New(dataset.WithMaxLength(opts.maxLength))
	fs := afero.NewOsFs()

	var result any
	switch {
	case opts.table != "":
		if len(args) > 0 {
			return fmt.Errorf("a record file cannot be combined with --table")
		}
		rows, err := dataset.LoadTable(fs, opts.table)
		if err != nil {
			return err
		}
		prepared, err := normalizer.PrepareTable(ctx, rows)
		if err != nil {
			return err
		}
		log.Debug("Prepared fixture table", "rows", len(prepared))
		result = prepared
	default:
		data, err := readRecord(cmd, fs, args)
		if err != nil {
			return err
		}
		record, err := dataset.FromJSON(data)
		if err != nil {
			return err
		}
		if opts.lenient {
			res := normalizer.Normalize(ctx, record)
			out := lenientOutput{Status: res.Status.String(), Record: res.Record}
			for _, stepErr := range res.Errors {
				out.Errors = append(out.Errors, stepErr.Error())
			}
			result = out
			break
		}
		prepared, err := normalizer.Prepare(ctx, record)
		if err != nil {
			return err
		}
		result = prepared
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = pretty.Pretty(data)
	if opts.output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := atomic.WriteFile(opts.output, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.output, err)
	}
	log.Info("Result written", "path", opts.output)
	return nil
}

func readRecord(cmd *cobra.Command, fs afero.Fs, args []string) ([]byte, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read record from stdin: %w", err)
		}
		return data, nil
	}
	data, err := afero.ReadFile(fs, args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}
