package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/config"
	"github.com/heyconcierge/relay/internal/handoff"
)

var extractBrandKey string

// extractCmd runs the extraction pipeline over a saved transcript. Handy for
// checking what a given assistant turn would have produced, without any
// server or upstream in the loop.
var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Run handoff extraction over a transcript file (or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if len(args) == 1 && args[0] != "-" {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("reading transcript: %w", err)
		}

		var b *brand.Brand
		if extractBrandKey != "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			brands, err := brand.Load(cfg.BrandsFile)
			if err != nil {
				return fmt.Errorf("loading brands: %w", err)
			}
			if b, err = brands.Get(extractBrandKey); err != nil {
				return fmt.Errorf("brand %q: %w", extractBrandKey, err)
			}
		}
		return runExtract(cmd.OutOrStdout(), string(data), b)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractBrandKey, "brand", "", "apply this brand's sanitization rules")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(out io.Writer, text string, b *brand.Brand) error {
	rec, found := handoff.Extract(text)
	if !found {
		rec, found = handoff.NewInferencer().Infer(text)
	}
	if !found {
		fmt.Fprintln(out, "no handoff record found")
		return nil
	}
	status := "valid"
	if b != nil {
		clean, err := handoff.Sanitize(rec, b)
		if err != nil {
			status = "rejected: " + err.Error()
		} else {
			rec = clean
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"kind":     rec.Kind,
		"grammar":  rec.Grammar,
		"inferred": rec.Inferred,
		"payload":  rec.Payload,
		"status":   status,
	})
}
