// seed inserts development sample data for local testing. Run via ./scripts/seed.sh.
// Safe to re-run: existing accounts get a fresh activation code instead of a
// duplicate insert, so a code burned during testing can be re-issued.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"carelink/backend/internal/config"
	"carelink/backend/internal/db"
	"carelink/backend/internal/security"
	userdomain "carelink/backend/internal/user/domain"
	userrepo "carelink/backend/internal/user/repository"
)

const (
	caregiverEmail   = "ana@example.test"
	caregiverID      = "dev-user-001"
	coordinatorEmail = "luis@example.test"
	coordinatorID    = "dev-user-002"

	// Office-issued activation codes, printed once below. Users may type
	// them with or without the dash.
	caregiverCode   = "2481-7035"
	coordinatorCode = "9137-2846"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	now := time.Now().UTC()
	codeExpiry := now.Add(7 * 24 * time.Hour)

	ensureUser(ctx, users, &userdomain.User{
		ID:        caregiverID,
		Email:     caregiverEmail,
		Name:      "Ana Caregiver",
		Role:      userdomain.RoleCaregiver,
		Zone:      "north",
		Status:    userdomain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, caregiverCode, &codeExpiry)

	ensureUser(ctx, users, &userdomain.User{
		ID:        coordinatorID,
		Email:     coordinatorEmail,
		Name:      "Luis Coordinator",
		Role:      userdomain.RoleCoordinator,
		Zone:      "north",
		Status:    userdomain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, coordinatorCode, &codeExpiry)

	log.Println("Seed completed successfully.")
	fmt.Printf("Caregiver activation: %s / %s\n", caregiverEmail, caregiverCode)
	fmt.Printf("Coordinator activation: %s / %s\n", coordinatorEmail, coordinatorCode)
}

// ensureUser creates the account, or re-issues its activation code when it
// already exists. Codes are hashed over their digit form.
func ensureUser(ctx context.Context, users *userrepo.PostgresRepository, u *userdomain.User, code string, expiresAt *time.Time) {
	codeHash := security.HashTokenHex(userdomain.NormalizeActivationCode(code))

	existing, err := users.GetByEmail(ctx, u.Email)
	if err != nil {
		log.Fatalf("seed check %s: %v", u.Email, err)
	}
	if existing != nil {
		if err := users.SetActivationCode(ctx, existing.ID, codeHash, expiresAt); err != nil {
			log.Fatalf("re-issue code for %s: %v", u.Email, err)
		}
		log.Printf("%s exists, re-issued activation code", u.Email)
		return
	}

	u.ActivationCodeHash = codeHash
	u.ActivationCodeExpiresAt = expiresAt
	if err := users.Create(ctx, u); err != nil {
		log.Fatalf("create %s: %v", u.Email, err)
	}
}
