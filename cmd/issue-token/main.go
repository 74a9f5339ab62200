package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// issue-token signs a learner or proctor token with the server's secret.
// Intended for local development and load testing only.
func main() {
	tokenType := flag.String("type", string(service.TokenTypeLearner), "token type: learner or proctor")
	userID := flag.Int("user", 0, "learner or proctor id")
	flag.Parse()

	if *userID <= 0 {
		fmt.Println("Error: -user must be a positive id")
		os.Exit(2)
	}

	cfg := config.Load()
	authService := service.NewAuthService(cfg)

	token, err := authService.GenerateToken(service.TokenType(*tokenType), *userID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
