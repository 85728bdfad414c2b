package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes in the seed owner password.
const seedPasswordBytes = 16

// SeedOwnerUsername is the account created on first boot.
const SeedOwnerUsername = "owner"

// SeedOwner creates the initial owner account when the user table is empty.
// The generated password is logged once and returned; it is never stored in
// clear. Returns "" when seeding was skipped.
func SeedOwner(ctx context.Context, users UserRepository, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping owner seed")
		return "", nil
	}

	raw := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(raw)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	if err := users.Create(ctx, &User{
		Username:     SeedOwnerUsername,
		PasswordHash: hash,
		Role:         RoleOwner,
	}); err != nil {
		return "", fmt.Errorf("creating seed owner: %w", err)
	}

	logger.Warn("seed owner account created",
		"username", SeedOwnerUsername,
		"password", password,
		"action_required", "store this password; it is shown only once",
	)
	return password, nil
}
