package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vorpalengineering/x402-agent/proof"
	"github.com/vorpalengineering/x402-agent/types"
)

func signCommand(ctx context.Context, args []string) {
	// Define flags
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)
	var requirementsInput, resource, payer, signerURL, output string
	var verbose bool
	signFlags.StringVar(&requirementsInput, "requirements", "", "PaymentRequirements as JSON or file path")
	signFlags.StringVar(&requirementsInput, "req", "", "PaymentRequirements as JSON or file path")
	signFlags.StringVar(&resource, "resource", "", "URL to read the requirements from instead")
	signFlags.StringVar(&resource, "r", "", "URL to read the requirements from instead")
	signFlags.StringVar(&payer, "payer", "", "Payer address (required with --signer)")
	signFlags.StringVar(&signerURL, "signer", "", "URL of a remote signing service")
	signFlags.StringVar(&output, "output", "", "File path to write the header")
	signFlags.StringVar(&output, "o", "", "File path to write the header")
	signFlags.BoolVar(&verbose, "verbose", false, "Print the decoded authorization")
	signFlags.BoolVar(&verbose, "v", false, "Print the decoded authorization")

	// Parse flags
	signFlags.Parse(args)

	if (requirementsInput == "") == (resource == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --requirements or --resource is required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli sign --req <requirements-json|file>")
		fmt.Fprintln(os.Stderr, "  x402cli sign -r <url>")
		signFlags.PrintDefaults()
		os.Exit(1)
	}

	var requirements *types.PaymentRequirements
	if requirementsInput != "" {
		requirements = readRequirements(requirementsInput)
	} else {
		_, envelope, err := fetchRequirements(ctx, "GET", resource)
		if err != nil {
			exitWithError(err)
		}
		if envelope == nil {
			fmt.Fprintf(os.Stderr, "Error: %s does not require payment\n", resource)
			os.Exit(1)
		}
		requirements = &envelope.Accepts[0]
	}

	signer, payer := newSigner(signerURL, payer)
	p, err := proof.NewPreparer(signer).Prepare(ctx, payer, requirements)
	if err != nil {
		exitWithError(err)
	}

	if verbose {
		fprintJSON(os.Stderr, p.Payload)
	}
	writeOutput(output, []byte(p.Header+"\n"))
}
