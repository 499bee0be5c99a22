package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	facilitatorclient "github.com/vorpalengineering/x402-agent/facilitator/client"
	"github.com/vorpalengineering/x402-agent/types"
)

func verifyCommand(ctx context.Context, args []string) {
	// Define flags for verify command
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)
	var facilitatorURL, header, requirementInput string
	verifyFlags.StringVar(&facilitatorURL, "facilitator", "", "URL of the facilitator service (required)")
	verifyFlags.StringVar(&facilitatorURL, "f", "", "URL of the facilitator service (required)")
	verifyFlags.StringVar(&header, "header", "", "X-PAYMENT header value or @file (required)")
	verifyFlags.StringVar(&header, "H", "", "X-PAYMENT header value or @file (required)")
	verifyFlags.StringVar(&requirementInput, "requirement", "", "PaymentRequirements as JSON string or file path (required)")
	verifyFlags.StringVar(&requirementInput, "r", "", "PaymentRequirements as JSON string or file path (required)")

	// Parse flags
	verifyFlags.Parse(args)

	// Validate required flags
	if facilitatorURL == "" || header == "" || requirementInput == "" {
		fmt.Fprintln(os.Stderr, "Error: --facilitator, --header, and --requirement flags are all required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli verify -f <url> -H <header|@file> -r <json|file>")
		verifyFlags.PrintDefaults()
		os.Exit(1)
	}

	// Call facilitator /verify
	fc := facilitatorclient.NewFacilitatorClient(facilitatorURL)
	resp, err := fc.Verify(ctx, &types.VerifyRequest{
		X402Version:         types.X402Version,
		PaymentHeader:       readHeader(header),
		PaymentRequirements: *readRequirements(requirementInput),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	printJSON(resp)
	if !resp.IsValid {
		os.Exit(2)
	}
}

// readHeader accepts the header inline or as @path
func readHeader(input string) string {
	if !strings.HasPrefix(input, "@") {
		return input
	}
	data, err := os.ReadFile(strings.TrimPrefix(input, "@"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file %s: %v\n", input[1:], err)
		os.Exit(1)
	}
	return strings.TrimSpace(string(data))
}
