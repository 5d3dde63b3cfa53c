// Command hash-generator prints the bcrypt hash to configure in
// auth.api_key_hashes for each API key given on the command line, or for
// a freshly generated key when none is given.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/lookbook/internal/service/auth"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	keys := os.Args[1:]
	if len(keys) == 0 {
		keys = []string{uuid.NewString()}
	}

	failed := false
	for _, key := range keys {
		hash, err := auth.HashAPIKey(key, bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating hash: %v\n", err)
			failed = true
			continue
		}
		fmt.Printf("Key: %s\nHash: %s\n\n", key, hash)
	}
	if failed {
		os.Exit(1)
	}
}
