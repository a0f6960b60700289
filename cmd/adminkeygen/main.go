// Command adminkeygen provisions the operator API key for a relay
// instance's admin surface. It prints the plaintext key once (to be
// stored by the operator) and the bcrypt hash to configure as
// RELAY_ADMIN_API_KEY_HASH.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/streamspace/streamspace/api/internal/auth"
)

func main() {
	verify := flag.String("verify", "", "check that an existing key matches a given bcrypt hash")
	hash := flag.String("hash", "", "bcrypt hash to verify -verify against")
	flag.Parse()

	if *verify != "" {
		if err := auth.ValidateAPIKeyFormat(*verify); err != nil {
			fmt.Fprintf(os.Stderr, "invalid key format: %v\n", err)
			os.Exit(1)
		}
		if *hash == "" {
			fmt.Fprintln(os.Stderr, "-hash is required with -verify")
			os.Exit(1)
		}
		if auth.CompareAPIKey(*verify, *hash) {
			fmt.Println("match")
			return
		}
		fmt.Println("no match")
		os.Exit(1)
	}

	metadata, err := auth.GenerateAPIKeyWithMetadata()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generating admin API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("admin API key (save this, shown once):")
	fmt.Println(metadata.PlaintextKey)
	fmt.Println()
	fmt.Println("RELAY_ADMIN_API_KEY_HASH=" + metadata.Hash)
}
