package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailProvider is the provider tag under which Gmail records are
// persisted and Gmail credentials are stored.
const GmailProvider = "gmail"

// gmailListCap is the hard ceiling on candidate ids requested from the
// list endpoint, matching the API's own maximum page size.
const gmailListCap = 500

// defaultGmailLimit applies when a caller passes no usable limit.
const defaultGmailLimit = 50

// TokenStore is the credential-store collaborator. Load returns
// (nil, nil) when no credential is stored. The fetcher calls Purge
// whenever the provider signals the credential is expired or revoked;
// it never persists credentials through any other path.
type TokenStore interface {
	Load(ctx context.Context, provider string) (*oauth2.Token, error)
	Save(ctx context.Context, provider string, tok *oauth2.Token) error
	Purge(ctx context.Context, provider string) error
}

// GmailFetcher retrieves and normalizes messages through the Gmail
// API using a stored OAuth credential.
type GmailFetcher struct {
	oauth  *oauth2.Config
	tokens TokenStore
	logger *slog.Logger
}

// NewGmailFetcher creates a fetcher. The oauth2 config carries the
// application client credentials; user tokens come from the store.
func NewGmailFetcher(oauthCfg *oauth2.Config, tokens TokenStore, logger *slog.Logger) *GmailFetcher {
	return &GmailFetcher{oauth: oauthCfg, tokens: tokens, logger: logger}
}

// Fetch lists messages after the window's oldest date and normalizes
// up to opts.Limit of them, newest listed first. Returns ErrNeedsAuth
// when no credential is stored or the provider rejects the stored one;
// in the latter case the credential is purged first. Folder is ignored
// for this source.
func (g *GmailFetcher) Fetch(ctx context.Context, opts FetchOptions) ([]EmailRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultGmailLimit
	}
	window := NewWindow(time.Now(), opts.DaysBack)

	tok, err := g.tokens.Load(ctx, GmailProvider)
	if err != nil {
		return nil, fmt.Errorf("load gmail credential: %w", err)
	}
	if tok == nil {
		return nil, fmt.Errorf("no gmail credential stored: %w", ErrNeedsAuth)
	}

	// The token source refreshes expired tokens transparently. Force
	// one refresh up front so expiry surfaces here, where it can be
	// classified, and the refreshed token can be saved back.
	source := g.oauth.TokenSource(ctx, tok)
	current, err := source.Token()
	if err != nil {
		return nil, g.classify(ctx, "refresh gmail credential", err)
	}
	if current.AccessToken != tok.AccessToken {
		if err := g.tokens.Save(ctx, GmailProvider, current); err != nil {
			g.logger.Warn("saving refreshed gmail credential failed", "error", err)
		}
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	query := "after:" + window.Oldest().Format("2006/01/02")
	maxResults := limit
	if maxResults > gmailListCap {
		maxResults = gmailListCap
	}

	list, err := svc.Users.Messages.List("me").
		Q(query).
		MaxResults(int64(maxResults)).
		Context(ctx).Do()
	if err != nil {
		return nil, g.classify(ctx, "list gmail messages", err)
	}

	fetchedAt := time.Now()
	var records []EmailRecord
	for _, ref := range list.Messages {
		if len(records) >= limit {
			break
		}
		msg, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			if isAuthError(err) {
				return nil, g.classify(ctx, "get gmail message", err)
			}
			g.logger.Warn("skipping message", "id", ref.Id, "error", err)
			continue
		}
		rec := g.normalize(ctx, svc, msg, window)
		if rec == nil {
			continue
		}
		rec.FetchedAt = fetchedAt
		rec.FetchedBy = opts.Owner
		records = append(records, *rec)
	}

	return records, nil
}

// normalize converts one full-format Gmail message into an
// EmailRecord. Returns nil for messages the date window discards.
func (g *GmailFetcher) normalize(ctx context.Context, svc *gmail.Service, msg *gmail.Message, window Window) *EmailRecord {
	if msg.Payload == nil {
		return nil
	}

	subject := DecodeHeader(gmailHeader(msg.Payload.Headers, "Subject"))
	from := DecodeHeader(gmailHeader(msg.Payload.Headers, "From"))
	to := DecodeHeader(gmailHeader(msg.Payload.Headers, "To"))

	parsed, err := netmail.ParseDate(gmailHeader(msg.Payload.Headers, "Date"))
	if err != nil {
		return nil
	}
	local := parsed.Local()
	if !window.Contains(local) {
		return nil
	}

	var acc partAccumulator
	g.walkPart(ctx, svc, msg.Id, msg.Payload, &acc)

	return &EmailRecord{
		ID:          msg.Id,
		Subject:     subject,
		From:        from,
		To:          to,
		Date:        local.Format("2006-01-02 15:04:05"),
		ParsedDate:  local,
		Preview:     Preview(previewSource(acc.plain, acc.html)),
		PlainBody:   acc.plain,
		HTMLBody:    acc.html,
		Sequence:    SequenceCode(from, local),
		Attachments: acc.attachments,
	}
}

// walkPart recurses through the JSON-shaped part tree the API returns,
// applying the same classification rule as the IMAP walker. Parts
// carrying an attachment reference need a separate retrieval call;
// inline parts decode from embedded data.
func (g *GmailFetcher) walkPart(ctx context.Context, svc *gmail.Service, msgID string, part *gmail.MessagePart, acc *partAccumulator) {
	disposition := strings.ToLower(gmailHeader(part.Headers, "Content-Disposition"))
	contentID := cleanContentID(gmailHeader(part.Headers, "Content-Id"))

	switch ClassifyPart(disposition, part.Filename != "", part.MimeType) {
	case PartAttachment:
		g.collectAttachment(ctx, svc, msgID, part, disposition, contentID, acc)
	case PartBody:
		if part.Body != nil && part.Body.Data != "" {
			data, err := decodeBase64URL(part.Body.Data)
			if err != nil {
				g.logger.Debug("undecodable body part", "id", msgID, "mime_type", part.MimeType, "error", err)
			} else {
				// The API always hands back decodable text; no
				// charset ladder needed here. Inline non-text
				// parts carry nothing for the body fields.
				switch part.MimeType {
				case "text/html":
					if acc.html == "" {
						acc.html = string(data)
					}
				case "text/plain":
					if acc.plain == "" {
						acc.plain = string(data)
					}
				}
			}
		}
	}

	for _, child := range part.Parts {
		g.walkPart(ctx, svc, msgID, child, acc)
	}
}

// collectAttachment resolves one attachment part, retrieving
// referenced content through the attachments endpoint when needed.
// Failures here are logged and the attachment skipped; they never
// fail the message.
func (g *GmailFetcher) collectAttachment(ctx context.Context, svc *gmail.Service, msgID string, part *gmail.MessagePart, disposition, contentID string, acc *partAccumulator) {
	if part.Body == nil {
		return
	}

	var raw []byte
	switch {
	case part.Body.AttachmentId != "":
		att, err := svc.Users.Messages.Attachments.Get("me", msgID, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			g.logger.Warn("fetching attachment failed", "id", msgID, "filename", part.Filename, "error", err)
			return
		}
		raw, err = decodeBase64URL(att.Data)
		if err != nil {
			g.logger.Warn("undecodable attachment", "id", msgID, "filename", part.Filename, "error", err)
			return
		}
	case part.Body.Data != "":
		var err error
		raw, err = decodeBase64URL(part.Body.Data)
		if err != nil {
			g.logger.Debug("undecodable inline attachment", "id", msgID, "filename", part.Filename, "error", err)
			return
		}
	}
	if len(raw) == 0 {
		return
	}

	filename := part.Filename
	if filename == "" {
		filename = fmt.Sprintf("attachment_%d", len(acc.attachments)+1)
	}
	contentType := part.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	acc.attachments = append(acc.attachments, AttachmentRecord{
		Filename:           filename,
		ContentType:        contentType,
		Size:               len(raw),
		Data:               base64.StdEncoding.EncodeToString(raw),
		ContentID:          contentID,
		ContentDisposition: disposition,
	})
}

// classify wraps a provider error, converting authentication-class
// failures into ErrNeedsAuth after purging the stored credential so
// the caller never has to remember that cleanup step.
func (g *GmailFetcher) classify(ctx context.Context, op string, err error) error {
	if !isAuthError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if perr := g.tokens.Purge(ctx, GmailProvider); perr != nil {
		g.logger.Warn("purging gmail credential failed", "error", perr)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNeedsAuth, err)
}

// isAuthError reports whether the provider signaled an invalid,
// expired, or revoked credential, as opposed to a transient or
// request-level failure.
func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return true
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) && tokenErr.ErrorCode == "invalid_grant" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "token has been expired") ||
		strings.Contains(msg, "revoked")
}

// gmailHeader finds a header value in a part's header list.
// Gmail canonicalizes names but matching stays case-insensitive.
func gmailHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// decodeBase64URL decodes the API's base64url payloads, which show up
// both padded and unpadded.
func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
