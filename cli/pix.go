package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/room4-2/studytutor/payment"
)

func init() {
	pix := &cobra.Command{
		Use:   "pix <amount>",
		Short: "Print the PIX copy-and-paste payload for an amount",
		Args:  cobra.ExactArgs(1),
		RunE:  runPix,
	}

	verify := &cobra.Command{
		Use:   "verify <receipt-image> <amount>",
		Short: "Ask the model whether a receipt pays amount to the configured recipient",
		Args:  cobra.ExactArgs(2),
		RunE:  runVerify,
	}

	packs := &cobra.Command{
		Use:   "packs",
		Short: "List the point packs on sale",
		Args:  cobra.NoArgs,
		RunE:  runPacks,
	}

	RootCmd.AddCommand(pix, verify, packs)
}

func runPix(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Recipient.Key == "" {
		return fmt.Errorf("PIX_KEY is not set")
	}
	amount, err := payment.ParseAmount(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), payment.GeneratePayload(cfg.Recipient, amount))
	return nil
}

var receiptMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read receipt: %w", err)
	}
	amount, err := payment.ParseAmount(args[1])
	if err != nil {
		return err
	}

	receipt := payment.Receipt{
		Data:     data,
		MIMEType: receiptMIME[strings.ToLower(filepath.Ext(args[0]))],
	}
	verdict, err := newClient(cfg).VerifyReceipt(cmd.Context(), receipt, amount)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), verdict)
}

func runPacks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := cfg.LoadCatalog()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range catalog.Packs {
		fmt.Fprintf(out, "%-10s %5d IP  %s\n", p.ID, p.Points, p.Price.Reais())
	}
	return nil
}
