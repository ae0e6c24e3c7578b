package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailtask/mailtask/internal/ingest"
)

// ErrNoOwner rejects an upsert call with no resolvable owner identity:
// none passed explicitly and none attached to the context.
var ErrNoOwner = errors.New("owner identity required")

type ownerContextKey struct{}

// WithOwner attaches the authenticated user's identity to the context,
// for call sites where the owner is established once (at the request
// boundary) rather than threaded through every signature.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext returns the owner identity attached by WithOwner,
// or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}

// UpsertEmails persists a batch of normalized records for one provider
// as a single transaction. The upsert key is (provider, record id):
// on conflict every field is overwritten by the incoming record except
// created_by, which keeps its stored value unless the incoming record
// carries a non-empty FetchedBy. Records without an id are dropped; an
// empty batch is a no-op. Returns the number of rows written.
//
// The owner argument (falling back to WithOwner context) authenticates
// the call and stamps fresh rows whose record carries no FetchedBy; on
// conflict it never overwrites the stored owner. A call with neither
// returns ErrNoOwner.
func (s *Store) UpsertEmails(ctx context.Context, provider string, records []ingest.EmailRecord, owner string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if owner == "" {
		owner = OwnerFromContext(ctx)
	}
	if owner == "" {
		return 0, ErrNoOwner
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emails (
			provider, email_uid, subject, from_addr, to_addr, date,
			preview, plain_body, html_body, sequence, attachments,
			fetched_at, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, email_uid) DO UPDATE SET
			subject = excluded.subject,
			from_addr = excluded.from_addr,
			to_addr = excluded.to_addr,
			date = excluded.date,
			preview = excluded.preview,
			plain_body = excluded.plain_body,
			html_body = excluded.html_body,
			sequence = excluded.sequence,
			attachments = excluded.attachments,
			fetched_at = excluded.fetched_at,
			created_by = COALESCE(?, emails.created_by)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}

		attachments, err := json.Marshal(rec.Attachments)
		if err != nil {
			attachments = []byte("[]")
		}

		fetchedAt := rec.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = time.Now()
		}

		// A fresh row is always stamped: the record's FetchedBy when it
		// carries one, the call owner otherwise. On conflict only an
		// explicit FetchedBy may replace the stored owner.
		recordOwner := sql.NullString{String: rec.FetchedBy, Valid: rec.FetchedBy != ""}
		insertOwner := rec.FetchedBy
		if insertOwner == "" {
			insertOwner = owner
		}

		if _, err := stmt.ExecContext(ctx,
			provider, rec.ID, rec.Subject, rec.From, rec.To, rec.Date,
			rec.Preview, rec.PlainBody, rec.HTMLBody, rec.Sequence,
			string(attachments), fetchedAt.UTC().Format(time.RFC3339),
			insertOwner, recordOwner,
		); err != nil {
			return 0, fmt.Errorf("upsert %s/%s: %w", provider, rec.ID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// StoredEmail is one persisted row, with attachments unmarshaled.
type StoredEmail struct {
	Provider    string
	ID          string
	Subject     string
	From        string
	To          string
	Date        string
	Preview     string
	PlainBody   string
	HTMLBody    string
	Sequence    string
	Attachments []ingest.AttachmentRecord
	FetchedAt   string
	CreatedBy   string
}

// GetEmail looks up one stored record by its upsert key. Returns
// (nil, nil) when absent.
func (s *Store) GetEmail(ctx context.Context, provider, id string) (*StoredEmail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, email_uid, subject, from_addr, to_addr, date,
		       preview, plain_body, html_body, sequence, attachments,
		       fetched_at, COALESCE(created_by, '')
		FROM emails WHERE provider = ? AND email_uid = ?
	`, provider, id)

	var rec StoredEmail
	var attachments string
	err := row.Scan(&rec.Provider, &rec.ID, &rec.Subject, &rec.From,
		&rec.To, &rec.Date, &rec.Preview, &rec.PlainBody, &rec.HTMLBody,
		&rec.Sequence, &attachments, &rec.FetchedAt, &rec.CreatedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s/%s: %w", provider, id, err)
	}

	if err := json.Unmarshal([]byte(attachments), &rec.Attachments); err != nil {
		rec.Attachments = nil
	}
	return &rec, nil
}

// CountEmails returns the number of stored rows for a provider.
func (s *Store) CountEmails(ctx context.Context, provider string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE provider = ?`, provider).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}
