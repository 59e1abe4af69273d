package main

import (
	"fmt"
	"os"

	"github.com/djinilabs/helpmaton-sub006/internal/util"
)

// Prints a new operator token and the bcrypt hash to put in
// OPERATOR_TOKEN_HASH. Pass an existing token to hash it instead.
func main() {
	token := ""
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		generated, err := util.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		token = generated
		fmt.Printf("token: %s\n", token)
	}

	hash, err := util.HashSecret(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("hash:  %s\n", hash)
}
