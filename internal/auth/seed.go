package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ecozone/authcore/internal/infrastructure/logging"
)

// seedPasswordBytes is the number of random bytes for a generated admin password.
const seedPasswordBytes = 16

// AdminSeed describes the bootstrap office account.
type AdminSeed struct {
	Email        string
	Password     string
	ManagedZones []string
}

// SeedAdmin creates an office account when the user table is empty and an
// admin email is configured. Without a configured password one is
// generated and logged once; it must be changed immediately.
// Returns the password used, or "" if seeding was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, hasher *PasswordHasher, seed AdminSeed, logger *logging.Logger) (string, error) {
	if seed.Email == "" {
		return "", nil
	}
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	password := seed.Password
	generated := password == ""
	if generated {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		// Hex alone has no upper case; the prefix keeps it strong.
		password = "Ez" + hex.EncodeToString(b)
	} else if msg := PasswordStrengthError(password); msg != "" {
		return "", fmt.Errorf("admin password %s", msg)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	zones := seed.ManagedZones
	if zones == nil {
		zones = []string{}
	}
	admin := &User{
		Email:        seed.Email,
		PasswordHash: hash,
		FirstName:    "EcoZone",
		LastName:     "Administrator",
		UserType:     UserTypeOffice,
		Profile:      OfficeProfile{OfficeName: "Administration", ManagedZones: zones},
		Auth:         AuthState{EmailVerified: true},
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if generated {
		logger.Warn("seed admin account created",
			"email", admin.Email,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("seed admin account created", "email", admin.Email)
	}
	return password, nil
}
