package main

import (
	"fmt"
	"os"

	"github.com/arnavshah/shift-optimizer/pkg/auth"
	"github.com/arnavshah/shift-optimizer/pkg/config"
)

func main() {
	// Load .env from project root
	config.LoadDotEnv(".env", "../.env", "../../.env")

	if len(os.Args) < 2 {
		fmt.Println("Usage: keygen <userID>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.MasterSecret == "" {
		fmt.Println("Error: API_MASTER_SECRET is not set")
		os.Exit(1)
	}

	userID := os.Args[1]
	apiKey := auth.New(cfg.Auth).GenerateHMACKey(userID)
	fmt.Printf("Generated Key for %s:\n%s\n", userID, apiKey)
}
