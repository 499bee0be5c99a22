package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vorpalengineering/x402-agent/catalog"
)

func catalogCommand(ctx context.Context, args []string) {
	catalogFlags := flag.NewFlagSet("catalog", flag.ExitOnError)
	var shopURL string
	catalogFlags.StringVar(&shopURL, "shop", "", "Base URL of the resource server (required)")
	catalogFlags.StringVar(&shopURL, "s", "", "Base URL of the resource server (required)")

	catalogFlags.Parse(args)

	if shopURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --shop or -s flag is required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  x402cli catalog --shop <base-url>")
		catalogFlags.PrintDefaults()
		os.Exit(1)
	}

	listings, err := catalog.NewClient(shopURL).List(ctx)
	if err != nil {
		exitWithError(err)
	}
	printJSON(catalog.ListResponse{Products: listings})
}
