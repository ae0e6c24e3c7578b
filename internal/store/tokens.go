package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Load returns the stored OAuth token for a provider, or (nil, nil)
// when none is stored. Token refresh is the fetcher's business; Load
// hands back exactly what was saved.
func (s *Store) Load(ctx context.Context, provider string) (*oauth2.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, COALESCE(refresh_token, ''),
		       COALESCE(token_type, ''), COALESCE(expiry, '')
		FROM oauth_tokens WHERE provider = ?
	`, provider)

	var tok oauth2.Token
	var expiry string
	err := row.Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", provider, err)
	}

	if expiry != "" {
		t, err := time.Parse(time.RFC3339, expiry)
		if err != nil {
			return nil, fmt.Errorf("load token for %s: bad expiry %q: %w", provider, expiry, err)
		}
		tok.Expiry = t
	}
	return &tok, nil
}

// Save upserts the OAuth token for a provider.
func (s *Store) Save(ctx context.Context, provider string, tok *oauth2.Token) error {
	var expiry string
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`, provider, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save token for %s: %w", provider, err)
	}
	return nil
}

// Purge deletes the stored OAuth token for a provider. Purging an
// absent token is not an error.
func (s *Store) Purge(ctx context.Context, provider string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("purge token for %s: %w", provider, err)
	}
	return nil
}
