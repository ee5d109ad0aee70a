package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-phiguard/internal/correlation"
	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/phi"
)

type scanOutput struct {
	CorrelationID string                  `json:"correlation_id"`
	Text          string                  `json:"text"`
	Redactions    int                     `json:"redactions"`
	Events        []models.RedactionEvent `json:"events"`
}

func newScanCommand() *cobra.Command {
	var (
		sensitivity   string
		rulesPath     string
		correlationID string
	)
	cmd := &cobra.Command{
		Use:   "scan [file]",
		Short: "De-identify a file (or stdin) and print the cleaned text with its redaction events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, ok := models.ParseSensitivity(sensitivity)
			if !ok {
				return fmt.Errorf("unknown sensitivity %q", sensitivity)
			}
			detector, err := phi.LoadDetector(level, rulesPath)
			if err != nil {
				return fmt.Errorf("load rule pack: %w", err)
			}

			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			cc := correlation.New(correlationID)
			cleaned, events := phi.NewDeidentifier(detector).Deidentify(cc, string(input))
			if events == nil {
				events = []models.RedactionEvent{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(scanOutput{
				CorrelationID: cc.ID(),
				Text:          cleaned,
				Redactions:    len(events),
				Events:        events,
			})
		},
	}
	cmd.Flags().StringVar(&sensitivity, "sensitivity", "moderate", "Detection sensitivity: minimal, moderate or strict")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Optional rule pack merged over the built-in rules")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id stamped on the events (generated when empty)")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}
