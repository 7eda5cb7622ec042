package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/config"
)

var brandsCmd = &cobra.Command{
	Use:   "brands",
	Short: "List the configured brands and their routing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		brands, err := brand.Load(cfg.BrandsFile)
		if err != nil {
			return fmt.Errorf("loading brands: %w", err)
		}
		printBrands(os.Stdout, brands)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(brandsCmd)
}

func printBrands(w io.Writer, brands *brand.Registry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tUPSTREAM\tNOTIFY\tKEYS")
	for _, key := range brands.Keys() {
		b, err := brands.Get(key)
		if err != nil {
			continue
		}
		identity := b.AssistantID
		if identity == "" {
			identity = b.ChatModel
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			b.Key, b.DisplayName, identity, b.Notify.Recipient, len(b.APIKeys))
	}
	tw.Flush()
}
