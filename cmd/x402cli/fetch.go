package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/vorpalengineering/x402-agent/proof"
	"github.com/vorpalengineering/x402-agent/resource/client"
)

func fetchCommand(ctx context.Context, args []string) {
	// Define flags
	fetchFlags := flag.NewFlagSet("fetch", flag.ExitOnError)
	var resource, method, data, output, payer, signerURL string
	var verbose bool
	fetchFlags.StringVar(&resource, "resource", "", "URL of the resource to fetch (required)")
	fetchFlags.StringVar(&resource, "r", "", "URL of the resource to fetch (required)")
	fetchFlags.StringVar(&method, "method", "GET", "HTTP method (GET or POST)")
	fetchFlags.StringVar(&method, "m", "GET", "HTTP method (GET or POST)")
	fetchFlags.StringVar(&data, "data", "", "Request body as JSON string or file path")
	fetchFlags.StringVar(&data, "d", "", "Request body as JSON string or file path")
	fetchFlags.StringVar(&output, "output", "", "File path to write response body")
	fetchFlags.StringVar(&output, "o", "", "File path to write response body")
	fetchFlags.StringVar(&payer, "payer", "", "Payer address (required with --signer)")
	fetchFlags.StringVar(&signerURL, "signer", "", "URL of a remote signing service")
	fetchFlags.BoolVar(&verbose, "verbose", false, "Log protocol details")
	fetchFlags.BoolVar(&verbose, "v", false, "Log protocol details")

	// Parse flags
	fetchFlags.Parse(args)

	// Validate method
	if method != http.MethodGet && method != http.MethodPost {
		fmt.Fprintf(os.Stderr, "Error: --method must be GET or POST, got %s\n", method)
		os.Exit(1)
	}

	// Validate required flags
	if resource == "" {
		fmt.Fprintln(os.Stderr, "Error: --resource or -r flag is required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli fetch -r <url> [-m POST -d <json|file>] [-o <file>]")
		fetchFlags.PrintDefaults()
		os.Exit(1)
	}

	req := client.Request{Method: method, URL: resource}
	if data != "" {
		req.Body = readJSONOrFile(data)
		req.Header = http.Header{"Content-Type": {"application/json"}}
	}

	log := newLogger(verbose)
	signer, payer := newSigner(signerURL, payer)
	c := client.NewClient(
		proof.NewPreparer(signer, proof.WithLogger(log)),
		payer,
		client.WithObserver(progress(os.Stderr)),
		client.WithLogger(log),
	)

	result, err := c.Fetch(ctx, req)
	if err != nil {
		exitWithError(err)
	}

	if result.Settlement != nil {
		fmt.Fprintln(os.Stderr, "Settlement:")
		fprintJSON(os.Stderr, result.Settlement)
	}
	writeOutput(output, result.Body)
}
