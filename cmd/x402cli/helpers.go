package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/proof"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

const privateKeyEnv = "X402_PRIVATE_KEY"

// readJSONOrFile returns JSON bytes from either an inline JSON string or a file path.
func readJSONOrFile(input string) []byte {
	if strings.HasPrefix(strings.TrimSpace(input), "{") {
		return []byte(input)
	}
	data, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file %s: %v\n", input, err)
		os.Exit(1)
	}
	return data
}

func readRequirements(input string) *types.PaymentRequirements {
	var requirements types.PaymentRequirements
	if err := json.Unmarshal(readJSONOrFile(input), &requirements); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing requirements JSON: %v\n", err)
		os.Exit(1)
	}
	if err := utils.ValidateRequirements(&requirements); err != nil {
		exitWithError(err)
	}
	return &requirements
}

func printJSON(v any) {
	fprintJSON(os.Stdout, v)
}

func fprintJSON(w io.Writer, v any) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting response: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(w, string(jsonBytes))
}

// writeOutput writes data to path, or to stdout when path is empty
func writeOutput(path string, data []byte) {
	if path == "" {
		fmt.Print(string(data))
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Written to %s\n", path)
}

// newSigner returns the signing collaborator and the payer it signs for.
// A remote signer needs the payer address; the local key implies it.
func newSigner(signerURL, payer string) (proof.Signer, string) {
	if signerURL != "" {
		if payer == "" {
			fmt.Fprintln(os.Stderr, "Error: --payer is required with --signer")
			os.Exit(1)
		}
		return proof.NewRemoteSigner(signerURL), payer
	}

	key := os.Getenv(privateKeyEnv)
	if key == "" {
		fmt.Fprintf(os.Stderr, "Error: %s is not set and no --signer was given\n", privateKeyEnv)
		os.Exit(1)
	}
	signer, err := proof.NewLocalSignerFromHex(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid %s: %v\n", privateKeyEnv, err)
		os.Exit(1)
	}
	if payer != "" && !strings.EqualFold(payer, signer.Address()) {
		fmt.Fprintf(os.Stderr, "Error: %s holds the key for %s, not %s\n", privateKeyEnv, signer.Address(), payer)
		os.Exit(1)
	}
	return signer, signer.Address()
}

func newLogger(verbose bool) logger.Logger {
	level := "error"
	if verbose {
		level = "debug"
	}
	l, err := logger.NewZapLogger(level)
	if err != nil {
		return logger.NoopLogger{}
	}
	return l
}

// progress renders protocol phases for the terminal
func progress(w io.Writer) types.Observer {
	return func(e types.Event) {
		switch e.Phase {
		case types.PhasePaymentRequired:
			fmt.Fprintf(w, "Payment required: %s of %s on %s\n", e.Amount, e.Asset, e.Network)
		case types.PhaseProofPrepared:
			fmt.Fprintf(w, "Signed authorization for %s from %s\n", e.Amount, e.Payer)
		case types.PhaseRetrySent:
			fmt.Fprintln(w, "Retrying with payment...")
		case types.PhaseSucceeded:
			if e.Reference != "" {
				fmt.Fprintf(w, "Paid. Reference %s is provisional until finalized\n", e.Reference)
			}
		}
	}
}

// exitWithError reports err with a hint matching what the user can do about it
func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	switch {
	case errors.Is(err, types.ErrFundingRequired):
		fmt.Fprintln(os.Stderr, "Funding required: the wallet cannot cover the price. Add funds, then buy again.")
	case errors.Is(err, types.ErrSettlementRejected):
		fmt.Fprintln(os.Stderr, "The payment was refused. Sending the same proof again will not help.")
	case errors.Is(err, types.ErrTransportError):
		fmt.Fprintln(os.Stderr, "The server could not be reached. Trying again later may help.")
	case errors.Is(err, types.ErrConfirmationRequired):
		fmt.Fprintln(os.Stderr, "Nothing was bought. Pass --yes or answer y to confirm.")
	}
	os.Exit(1)
}
