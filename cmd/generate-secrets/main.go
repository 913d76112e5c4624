package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/payment-service/internal/utils"
	"github.com/smarttransit/payment-service/pkg/jwt"
)

func main() {
	var (
		userIDFlag string
		roles      string
		issuer     string
		expiry     time.Duration
	)
	flag.StringVar(&userIDFlag, "user-id", "", "user id for the dev token (random when empty)")
	flag.StringVar(&roles, "roles", "passenger", "comma separated roles for the dev token")
	flag.StringVar(&issuer, "issuer", "smarttransit-auth", "token issuer (must match JWT_ISSUER)")
	flag.DurationVar(&expiry, "expiry", 24*time.Hour, "dev token lifetime")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("JWT Secret Generator for SmartTransit Payments")
	fmt.Println("===========================================")
	fmt.Println()

	secret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	userID := uuid.New()
	if userIDFlag != "" {
		if userID, err = uuid.Parse(userIDFlag); err != nil {
			log.Fatalf("Invalid -user-id: %v", err)
		}
	}

	var roleList []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}

	token, err := jwt.NewService(secret, issuer, expiry).GenerateAccessToken(userID, roleList)
	if err != nil {
		log.Fatalf("Failed to generate dev token: %v", err)
	}

	fmt.Println("✅ Secret generated successfully!")
	fmt.Println()
	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secret)
	fmt.Printf("JWT_ISSUER=%s\n", issuer)
	fmt.Println()
	fmt.Printf("Dev token for user %s (roles: %s, expires in %s):\n", userID, strings.Join(roleList, ","), expiry)
	fmt.Println()
	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
