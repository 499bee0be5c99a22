package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vorpalengineering/x402-agent/catalog"
	facilitatorclient "github.com/vorpalengineering/x402-agent/facilitator/client"
	"github.com/vorpalengineering/x402-agent/proof"
	"github.com/vorpalengineering/x402-agent/purchase"
	"github.com/vorpalengineering/x402-agent/resource/client"
	"github.com/vorpalengineering/x402-agent/types"
)

func buyCommand(ctx context.Context, args []string) {
	buyFlags := flag.NewFlagSet("buy", flag.ExitOnError)
	var shopURL, product, payer, signerURL, facilitatorURL, output string
	var yes, wait, verbose bool
	var timeout time.Duration
	buyFlags.StringVar(&shopURL, "shop", "", "Base URL of the resource server (required)")
	buyFlags.StringVar(&shopURL, "s", "", "Base URL of the resource server (required)")
	buyFlags.StringVar(&product, "product", "", "Product id, name or alias (required)")
	buyFlags.StringVar(&product, "p", "", "Product id, name or alias (required)")
	buyFlags.BoolVar(&yes, "yes", false, "Confirm the purchase without prompting")
	buyFlags.BoolVar(&yes, "y", false, "Confirm the purchase without prompting")
	buyFlags.StringVar(&payer, "payer", "", "Payer address (required with --signer)")
	buyFlags.StringVar(&signerURL, "signer", "", "URL of a remote signing service")
	buyFlags.StringVar(&facilitatorURL, "facilitator", "", "Facilitator URL, used with --wait")
	buyFlags.StringVar(&facilitatorURL, "f", "", "Facilitator URL, used with --wait")
	buyFlags.BoolVar(&wait, "wait", false, "Wait until the payment is finalized on-chain")
	buyFlags.DurationVar(&timeout, "timeout", 2*time.Minute, "How long --wait polls before giving up")
	buyFlags.StringVar(&output, "output", "", "File path to write the resource")
	buyFlags.StringVar(&output, "o", "", "File path to write the resource")
	buyFlags.BoolVar(&verbose, "verbose", false, "Log protocol details")
	buyFlags.BoolVar(&verbose, "v", false, "Log protocol details")

	buyFlags.Parse(args)

	if shopURL == "" || product == "" {
		fmt.Fprintln(os.Stderr, "Error: --shop and --product flags are required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli buy -s <base-url> -p <product> [--yes] [--wait -f <facilitator-url>]")
		buyFlags.PrintDefaults()
		os.Exit(1)
	}
	if wait && facilitatorURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --wait needs --facilitator")
		os.Exit(1)
	}

	log := newLogger(verbose)
	signer, payer := newSigner(signerURL, payer)
	shop := catalog.NewClient(shopURL)

	confirmed := yes
	if !confirmed {
		confirmed = confirmPurchase(ctx, shop, product)
	}

	resourceClient := client.NewClient(
		proof.NewPreparer(signer, proof.WithLogger(log)),
		payer,
		client.WithObserver(progress(os.Stderr)),
		client.WithLogger(log),
	)
	orchestrator := purchase.NewOrchestrator(shop, resourceClient, shopURL, purchase.WithLogger(log))

	outcome, err := orchestrator.Purchase(ctx, product, confirmed)
	if err != nil {
		exitWithError(err)
	}

	writeOutput(output, outcome.Body)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Bought %s", outcome.ResourceID)
	if outcome.PaymentReference != "" {
		fmt.Fprintf(os.Stderr, ", payment reference %s", outcome.PaymentReference)
	}
	fmt.Fprintln(os.Stderr)

	if !wait || outcome.PaymentReference == "" {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fc := facilitatorclient.NewFacilitatorClient(facilitatorURL)
	status, err := purchase.AwaitFinalization(waitCtx, fc, outcome.PaymentReference, purchase.DefaultPollInterval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: payment not finalized: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Finalization: %s (transaction %s)\n", status.Status, status.Transaction)
	if status.Status == types.FinalizationFailed {
		os.Exit(1)
	}
}

// confirmPurchase shows the price and asks on the terminal
func confirmPurchase(ctx context.Context, shop *catalog.Client, product string) bool {
	listings, err := shop.List(ctx)
	if err != nil {
		exitWithError(err)
	}
	id, err := shop.Resolve(ctx, product)
	if err != nil {
		exitWithError(err)
	}
	for _, l := range listings {
		if l.ID != id {
			continue
		}
		fmt.Fprintf(os.Stderr, "Buy %s (%s) for %s (%s atomic units of %s on %s)? [y/N] ",
			l.Name, l.ID, l.Price, l.Amount, l.Asset, l.Network)
	}

	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
