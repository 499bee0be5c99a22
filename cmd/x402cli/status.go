package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	facilitatorclient "github.com/vorpalengineering/x402-agent/facilitator/client"
	"github.com/vorpalengineering/x402-agent/purchase"
	"github.com/vorpalengineering/x402-agent/types"
)

func statusCommand(ctx context.Context, args []string) {
	statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
	var facilitatorURL, reference string
	var wait bool
	var interval, timeout time.Duration
	statusFlags.StringVar(&facilitatorURL, "facilitator", "", "URL of the facilitator service (required)")
	statusFlags.StringVar(&facilitatorURL, "f", "", "URL of the facilitator service (required)")
	statusFlags.StringVar(&reference, "reference", "", "Payment reference returned by a purchase (required)")
	statusFlags.StringVar(&reference, "ref", "", "Payment reference returned by a purchase (required)")
	statusFlags.BoolVar(&wait, "wait", false, "Poll until the payment is confirmed or failed")
	statusFlags.DurationVar(&interval, "interval", purchase.DefaultPollInterval, "Polling interval for --wait")
	statusFlags.DurationVar(&timeout, "timeout", 2*time.Minute, "How long --wait polls before giving up")

	statusFlags.Parse(args)

	if facilitatorURL == "" || reference == "" {
		fmt.Fprintln(os.Stderr, "Error: --facilitator and --reference flags are required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli status -f <url> --ref <reference> [--wait]")
		statusFlags.PrintDefaults()
		os.Exit(1)
	}

	fc := facilitatorclient.NewFacilitatorClient(facilitatorURL)

	var (
		status *types.SettlementStatus
		err    error
	)
	if wait {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		status, err = purchase.AwaitFinalization(waitCtx, fc, reference, interval)
	} else {
		status, err = fc.Status(ctx, reference)
	}

	switch {
	case errors.Is(err, facilitatorclient.ErrSettlementNotFound):
		fmt.Fprintf(os.Stderr, "Error: the facilitator has no settlement %s\n", reference)
		os.Exit(1)
	case err != nil && status == nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Still %s: %v\n", status.Status, err)
	}

	printJSON(status)
	if status.Status == types.FinalizationFailed {
		os.Exit(2)
	}
}
