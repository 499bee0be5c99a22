package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

func checkCommand(ctx context.Context, args []string) {
	// Define flags for check command
	checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
	var resource, method, output string
	checkFlags.StringVar(&resource, "resource", "", "URL of the resource to check (required)")
	checkFlags.StringVar(&resource, "r", "", "URL of the resource to check (required)")
	checkFlags.StringVar(&method, "method", "GET", "HTTP method to use")
	checkFlags.StringVar(&method, "m", "GET", "HTTP method to use")
	checkFlags.StringVar(&output, "output", "", "File path to write accepts[0] as JSON")
	checkFlags.StringVar(&output, "o", "", "File path to write accepts[0] as JSON")

	// Parse flags
	checkFlags.Parse(args)

	// Validate required flags
	if resource == "" {
		fmt.Fprintln(os.Stderr, "Error: --resource or -r flag is required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli check --resource <url>")
		fmt.Fprintln(os.Stderr, "  x402cli check -r <url>")
		checkFlags.PrintDefaults()
		os.Exit(1)
	}

	status, envelope, err := fetchRequirements(ctx, method, resource)
	if err != nil {
		exitWithError(err)
	}

	// Print results
	fmt.Printf("Resource: %s\n", resource)
	fmt.Printf("Status: %d %s\n\n", status, http.StatusText(status))

	switch {
	case envelope != nil:
		fmt.Println("Payment Required (402)")
		if envelope.Error != "" {
			fmt.Printf("Reason: %s\n", envelope.Error)
		}
		fmt.Println("\nAccepts:")
		for i, req := range envelope.Accepts {
			if i > 0 {
				fmt.Println("\n---")
			}
			printJSON(req)
		}
		if output != "" {
			data, _ := json.MarshalIndent(envelope.Accepts[0], "", "  ")
			writeOutput(output, data)
		}
	case status >= 200 && status < 300:
		fmt.Println("✓ Resource is accessible without payment")
	default:
		fmt.Printf("Resource returned status %d (not payment-protected)\n", status)
	}
}

// fetchRequirements makes one unpaid request. The envelope is nil unless the
// server answered 402 with a decodable body.
func fetchRequirements(ctx context.Context, method, resource string) (int, *types.PaymentRequiredResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, resource, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, types.NewPaymentError(types.CodeTransportError, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp.StatusCode, nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, types.NewPaymentError(types.CodeTransportError, "failed to read response", err)
	}
	envelope, err := utils.DecodeEnvelope(body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, envelope, nil
}
