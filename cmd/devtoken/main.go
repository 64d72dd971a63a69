// Command devtoken signs an access token for local testing, the same way the
// identity provider does.
//
//	devtoken -role finance [-user <uuid>] [-ttl 24h]
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/domain/role"
	"github.com/taskhub/taskhub-api/internal/pkg/jwt"
)

func main() {
	userFlag := flag.String("user", "", "user id (random when empty)")
	roleFlag := flag.String("role", string(role.User), "role claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	if !cfg.IsDevelopment() {
		log.Fatalf("devtoken only runs with ENV=development (got %q)", cfg.Env)
	}

	r, err := role.Parse(*roleFlag)
	if err != nil {
		log.Fatalf("Invalid role: %v", err)
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
	}

	token, err := jwt.NewService(cfg.JWTSecret, cfg.JWTIssuer).GenerateAccessToken(userID, string(r), *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("user_id: %s\nrole:    %s\n\n%s\n", userID, r, token)
}
