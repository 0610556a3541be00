// Package main generates an admin token and its bcrypt hash. The server stores
// only the hash (auth.admin_token_hash in config, or AG_AUTH_ADMIN_TOKEN_HASH);
// the raw token is shown once here and must be handed to the operator.
package main

import (
	"fmt"
	"os"

	"github.com/adminguard/adminguard/internal/auth"
)

func main() {
	token, hash, err := auth.GenerateAdminToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate admin token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Admin token (give to operator, shown once):\n  %s\n\n", token)
	fmt.Printf("Hash (store as auth.admin_token_hash):\n  %s\n", hash)
}
