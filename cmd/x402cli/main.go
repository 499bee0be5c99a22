package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Parse subcommand
	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "check":
		checkCommand(ctx, args)
	case "catalog":
		catalogCommand(ctx, args)
	case "buy":
		buyCommand(ctx, args)
	case "fetch":
		fetchCommand(ctx, args)
	case "sign":
		signCommand(ctx, args)
	case "verify":
		verifyCommand(ctx, args)
	case "settle":
		settleCommand(ctx, args)
	case "status":
		statusCommand(ctx, args)
	case "supported":
		supportedCommand(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "x402cli - CLI tool for buying x402-protected resources")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  x402cli <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  check      Check if a resource requires payment")
	fmt.Fprintln(os.Stderr, "  catalog    List the products a resource server sells")
	fmt.Fprintln(os.Stderr, "  buy        Buy a catalog product by id, name or alias")
	fmt.Fprintln(os.Stderr, "  fetch      Fetch a URL, paying if the server asks for it")
	fmt.Fprintln(os.Stderr, "  sign       Sign payment requirements into an X-PAYMENT header")
	fmt.Fprintln(os.Stderr, "  verify     Verify a payment header with a facilitator")
	fmt.Fprintln(os.Stderr, "  settle     Settle a payment header with a facilitator")
	fmt.Fprintln(os.Stderr, "  status     Resolve a payment reference to its transaction")
	fmt.Fprintln(os.Stderr, "  supported  Query facilitator for supported payment types")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Paying commands sign with the key in "+privateKeyEnv+" unless --signer is given.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, "  x402cli check --resource http://localhost:3000/resources/weather")
	fmt.Fprintln(os.Stderr, "  x402cli catalog --shop http://localhost:3000")
	fmt.Fprintln(os.Stderr, "  x402cli buy --shop http://localhost:3000 --product weather --yes")
	fmt.Fprintln(os.Stderr, "  x402cli status -f http://localhost:4020 --reference <ref> --wait")
}
