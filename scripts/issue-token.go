package main

import (
	"fmt"
	"os"
	"time"

	"github.com/vibely/realtime-server-go/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: JWT_SECRET=... go run scripts/issue-token.go <userId> [ttl]\n")
		os.Exit(1)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Error: JWT_SECRET is not set\n")
		os.Exit(1)
	}

	ttl := 24 * time.Hour
	if len(os.Args) > 2 {
		parsed, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid ttl: %v\n", err)
			os.Exit(1)
		}
		ttl = parsed
	}

	token, err := auth.NewJWTVerifier(secret, os.Getenv("JWT_ISSUER")).Issue(os.Args[1], ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
