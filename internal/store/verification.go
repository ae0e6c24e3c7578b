package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// GenerateVerificationCode returns a random 6-digit numeric code.
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// StoreVerificationCode saves a code for an email address with the
// given time-to-live, replacing any code already stored for it.
// Addresses are normalized to lowercase.
func (s *Store) StoreVerificationCode(ctx context.Context, email, code string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl).Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_codes (email, code, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			code = excluded.code,
			expires_at = excluded.expires_at
	`, strings.ToLower(email), code, expiresAt)
	if err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	return nil
}

// VerifyCode checks a code against the stored one for an address.
// Matching and expired codes are both removed — a code verifies at
// most once.
func (s *Store) VerifyCode(ctx context.Context, email, code string) (bool, error) {
	email = strings.ToLower(email)

	var stored, expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT code, expires_at FROM verification_codes WHERE email = ?`,
		email).Scan(&stored, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify code: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || time.Now().UTC().After(expiry) {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM verification_codes WHERE email = ?`, email)
		return false, nil
	}

	if stored != code {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE email = ?`, email); err != nil {
		return false, fmt.Errorf("consume code: %w", err)
	}
	return true, nil
}

// CleanupExpiredCodes removes expired verification codes. Intended to
// be invoked by an external scheduler; the store itself runs no
// background work.
func (s *Store) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE expires_at < ?`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("cleanup codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
