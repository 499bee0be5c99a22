package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	facilitatorclient "github.com/vorpalengineering/x402-agent/facilitator/client"
	"github.com/vorpalengineering/x402-agent/types"
)

func settleCommand(ctx context.Context, args []string) {
	// Define flags for settle command
	settleFlags := flag.NewFlagSet("settle", flag.ExitOnError)
	var facilitatorURL, header, requirementInput string
	settleFlags.StringVar(&facilitatorURL, "facilitator", "", "URL of the facilitator service (required)")
	settleFlags.StringVar(&facilitatorURL, "f", "", "URL of the facilitator service (required)")
	settleFlags.StringVar(&header, "header", "", "X-PAYMENT header value or @file (required)")
	settleFlags.StringVar(&header, "H", "", "X-PAYMENT header value or @file (required)")
	settleFlags.StringVar(&requirementInput, "requirement", "", "PaymentRequirements as JSON string or file path (required)")
	settleFlags.StringVar(&requirementInput, "r", "", "PaymentRequirements as JSON string or file path (required)")

	// Parse flags
	settleFlags.Parse(args)

	// Validate required flags
	if facilitatorURL == "" || header == "" || requirementInput == "" {
		fmt.Fprintln(os.Stderr, "Error: --facilitator, --header, and --requirement flags are all required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli settle -f <url> -H <header|@file> -r <json|file>")
		settleFlags.PrintDefaults()
		os.Exit(1)
	}

	// Call facilitator /settle
	fc := facilitatorclient.NewFacilitatorClient(facilitatorURL)
	resp, err := fc.Settle(ctx, &types.SettleRequest{
		X402Version:         types.X402Version,
		PaymentHeader:       readHeader(header),
		PaymentRequirements: *readRequirements(requirementInput),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	printJSON(resp)
	if !resp.Success {
		verdict := facilitatorclient.ToVerdict(resp)
		if verdict.Status == types.VerdictInsufficientFunds {
			fmt.Fprintln(os.Stderr, "Funding required: the payer cannot cover the amount.")
		}
		os.Exit(2)
	}
}
