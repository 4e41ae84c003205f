package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/cheth/backend/internal/admin"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		adminToken = "change-me-in-production" // Default token
		log.Printf("WARNING: Using default admin token. Set ADMIN_TOKEN env var in production!")
	}

	hash, err := admin.HashAdminToken(adminToken)
	if err != nil {
		log.Fatalf("Failed to hash admin token: %v", err)
	}

	log.Printf("✓ Admin token hashed successfully")
	log.Println("\nSet this in your environment:")
	log.Printf("  ADMIN_TOKEN_HASH=%s", hash)
	log.Println("\nAdmin requests must carry the plain token in X-Admin-Token.")
}
