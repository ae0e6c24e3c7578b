package ingest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	netmail "net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
)

// maxRawMessageSize caps how much of one message is buffered from the
// IMAP literal. Messages beyond this are truncated; the remainder of
// the literal is drained to keep the IMAP stream in sync.
const maxRawMessageSize = 50 * 1024 * 1024

// IMAPConfig holds connection parameters for one IMAP account.
type IMAPConfig struct {
	// Host is the IMAP server hostname.
	Host string `yaml:"host"`

	// Port is the IMAP server port. Default: 993 with TLS, 143 without.
	Port int `yaml:"port"`

	// Username is the IMAP login username (typically the email address).
	Username string `yaml:"username"`

	// Password is the IMAP login password.
	Password string `yaml:"password"`

	// TLS connects over implicit TLS (IMAPS).
	TLS bool `yaml:"tls"`

	// StartTLS upgrades a plaintext connection mid-session. Ignored
	// when TLS is set.
	StartTLS bool `yaml:"starttls"`
}

// FetchOptions controls one fetch call.
type FetchOptions struct {
	// Limit is the maximum number of messages to return, newest first.
	// 0 keeps every message the date search matched.
	Limit int

	// DaysBack widens the date window: daysBack+1 calendar dates
	// ending today. 0 means today only.
	DaysBack int

	// Folder is the mailbox to fetch from. Default: "INBOX". Callers
	// pass the account's sent-items folder for the outbound variant.
	Folder string

	// Owner is the authenticated user who triggered the fetch,
	// recorded on every returned record.
	Owner string
}

// IMAPFetcher retrieves and normalizes messages from a generic IMAP
// account. Connections are ephemeral — each Fetch dials, works, and
// logs out.
type IMAPFetcher struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

// NewIMAPFetcher creates a fetcher for the given account.
func NewIMAPFetcher(cfg IMAPConfig, logger *slog.Logger) *IMAPFetcher {
	return &IMAPFetcher{cfg: cfg, logger: logger}
}

// Fetch connects, searches the date window server-side, and returns
// normalized records newest-first. Connection, login, and folder
// selection failures abort the whole call; per-message failures are
// logged and that message is skipped.
func (f *IMAPFetcher) Fetch(ctx context.Context, opts FetchOptions) ([]EmailRecord, error) {
	window := NewWindow(time.Now(), opts.DaysBack)

	client, err := f.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Login(f.cfg.Username, f.cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("login as %s: %w", f.cfg.Username, err)
	}

	folder := opts.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	// Server-side day filter. go-imap serializes the SINCE date as
	// DD-Mon-YYYY with English month abbreviations regardless of host
	// locale, which some servers require.
	criteria := &imap.SearchCriteria{Since: window.Oldest()}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if opts.Limit > 0 && len(uids) > opts.Limit {
		uids = uids[len(uids)-opts.Limit:]
	}

	fetchedAt := time.Now()
	var records []EmailRecord
	for i := len(uids) - 1; i >= 0; i-- {
		uid := uids[i]
		rec, err := f.fetchMessage(client, uid, window)
		if err != nil {
			f.logger.Warn("skipping message", "uid", uint32(uid), "error", err)
			continue
		}
		if rec == nil {
			// Unparsable date or outside the window.
			continue
		}
		rec.FetchedAt = fetchedAt
		rec.FetchedBy = opts.Owner
		records = append(records, *rec)
	}

	if err := client.Logout().Wait(); err != nil {
		f.logger.Debug("logout failed", "host", f.cfg.Host, "error", err)
	}

	return records, nil
}

// connect dials the server using direct TLS, STARTTLS upgrade, or
// plaintext, per the account config.
func (f *IMAPFetcher) connect() (*imapclient.Client, error) {
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: f.cfg.Host},
	}

	f.logger.Debug("connecting to IMAP server",
		"host", f.cfg.Host, "port", f.cfg.Port,
		"tls", f.cfg.TLS, "starttls", f.cfg.StartTLS)

	var client *imapclient.Client
	var err error
	switch {
	case f.cfg.TLS:
		client, err = imapclient.DialTLS(addr, opts)
	case f.cfg.StartTLS:
		client, err = imapclient.DialStartTLS(addr, opts)
	default:
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	return client, nil
}

// fetchMessage retrieves one full message and normalizes it. A nil
// record with nil error means the message was discarded by the date
// window — not an error, not worth logging.
func (f *IMAPFetcher) fetchMessage(client *imapclient.Client, uid imap.UID, window Window) (*EmailRecord, error) {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)

	fetchOpts := &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: false}, // fetching marks the message \Seen
		},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	var raw []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		if data, ok := item.(imapclient.FetchItemDataBodySection); ok {
			// Consume the literal immediately; go-imap streams it
			// from the connection and advancing past an unread
			// literal loses the data.
			if data.Literal == nil {
				continue
			}
			var readErr error
			raw, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			_, _ = io.Copy(io.Discard, data.Literal)
			if readErr != nil {
				_ = fetchCmd.Close()
				return nil, fmt.Errorf("read message UID %d: %w", uid, readErr)
			}
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch message UID %d: %w", uid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body literal", uid)
	}

	return f.normalize(strconv.FormatUint(uint64(uid), 10), raw, window)
}

// normalize parses a raw RFC 822 message into an EmailRecord, applying
// the shared decode, window, classification, preview, and sequence
// logic. Returns (nil, nil) for messages the window discards.
func (f *IMAPFetcher) normalize(id string, raw []byte, window Window) (*EmailRecord, error) {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if ent == nil {
		return nil, fmt.Errorf("parse message: no entity")
	}

	subject := DecodeHeader(ent.Header.Get("Subject"))
	from := DecodeHeader(ent.Header.Get("From"))
	to := DecodeHeader(ent.Header.Get("To"))

	parsed, err := netmail.ParseDate(ent.Header.Get("Date"))
	if err != nil {
		return nil, nil
	}
	local := parsed.Local()
	if !window.Contains(local) {
		return nil, nil
	}

	var acc partAccumulator
	f.walkEntity(ent, &acc)

	return &EmailRecord{
		ID:          id,
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
	}, nil
}

// partAccumulator carries body and attachment state through the
// recursive MIME walk. The first text/plain and first text/html parts
// win; later duplicates are ignored.
type partAccumulator struct {
	plain       string
	html        string
	attachments []AttachmentRecord
}

// walkEntity recurses into multipart containers and collects leaves.
// go-message may hand back a part together with an unknown-charset
// error; those parts are still walked, since the raw bytes go through
// the fallback ladder anyway.
func (f *IMAPFetcher) walkEntity(ent *message.Entity, acc *partAccumulator) {
	mr := ent.MultipartReader()
	if mr == nil {
		f.collectLeaf(ent, acc)
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil && !message.IsUnknownCharset(err) {
			f.logger.Debug("malformed part, stopping walk", "error", err)
			return
		}
		if part == nil {
			return
		}
		f.walkEntity(part, acc)
	}
}

// collectLeaf classifies one leaf part and routes it into the
// accumulator. Transfer encoding is already undone by go-message; the
// charset ladder handles the rest.
func (f *IMAPFetcher) collectLeaf(ent *message.Entity, acc *partAccumulator) {
	contentType, ctParams, err := ent.Header.ContentType()
	if err != nil {
		contentType = "text/plain"
		ctParams = nil
	}
	disposition, dispParams, _ := ent.Header.ContentDisposition()

	filename := dispParams["filename"]
	if filename == "" {
		filename = ctParams["name"]
	}

	body, err := io.ReadAll(ent.Body)
	if err != nil {
		f.logger.Debug("error reading part body", "content_type", contentType, "error", err)
		return
	}

	if ClassifyPart(disposition, filename != "", contentType) == PartBody {
		// Inline parts that are not text (e.g. images referenced from
		// the HTML body) carry nothing for the body fields.
		switch contentType {
		case "text/html":
			if acc.html == "" {
				acc.html = DecodeBytes(body, ctParams["charset"])
			}
		case "text/plain":
			if acc.plain == "" {
				acc.plain = DecodeBytes(body, ctParams["charset"])
			}
		}
		return
	}

	// Zero-byte attachments carry nothing worth keeping.
	if len(body) == 0 {
		return
	}

	name := DecodeHeader(filename)
	if name == "" {
		name = fmt.Sprintf("attachment_%d", len(acc.attachments)+1)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	acc.attachments = append(acc.attachments, AttachmentRecord{
		Filename:           name,
		ContentType:        contentType,
		Size:               len(body),
		Data:               base64.StdEncoding.EncodeToString(body),
		ContentID:          cleanContentID(ent.Header.Get("Content-Id")),
		ContentDisposition: strings.ToLower(ent.Header.Get("Content-Disposition")),
	})
}
