// Package ingest normalizes messages from heterogeneous mail sources
// (IMAP accounts and the Gmail API) into one record shape. Fetchers
// share a header decoder with charset fallback, a day-granular date
// window, a deterministic sequence code, and a part classification
// rule, so downstream consumers never care which source a record
// came from.
package ingest

import "time"

// EmailRecord is the normalized shape of one fetched message,
// regardless of source. The JSON field names are the contract
// consumed by UI and API callers.
type EmailRecord struct {
	// ID is the source-assigned identifier: the IMAP sequence id or
	// the Gmail message id. Unique per provider. Records without an
	// ID are never persisted.
	ID string `json:"id"`

	Subject string `json:"subject"`
	From    string `json:"from"`
	To      string `json:"to"`

	// Date is the parsed Date header in local time, formatted as
	// "2006-01-02 15:04:05". Always set: records with an unparsable
	// date are discarded before construction.
	Date string `json:"date"`

	// ParsedDate is the Date header converted to local time. Records
	// whose date cannot be parsed, or falls outside the fetch window,
	// are discarded before construction.
	ParsedDate time.Time `json:"-"`

	// Preview is the first 500 characters of the plain body (or the
	// HTML body stripped of tags), with a trailing ellipsis when
	// truncated.
	Preview string `json:"preview"`

	PlainBody string `json:"plain_body"`
	HTMLBody  string `json:"html_body"`

	// Sequence is the deterministic correlation key derived from the
	// sender address and the message date. See SequenceCode.
	Sequence string `json:"sequence"`

	Attachments []AttachmentRecord `json:"attachments"`

	// FetchedAt is when this record was built.
	FetchedAt time.Time `json:"-"`

	// FetchedBy is the authenticated user who triggered the fetch.
	// May be empty; the persistence sink preserves the previously
	// stored owner in that case.
	FetchedBy string `json:"-"`
}

// HasBody reports whether the record carries any body content.
// Exposed to callers as the "has_body" flag.
func (r *EmailRecord) HasBody() bool {
	return r.PlainBody != "" || r.HTMLBody != ""
}

// AttachmentRecord is one attachment extracted during a fetch. It is
// built transiently while walking the part tree, embedded in its
// parent record, and never mutated afterwards.
type AttachmentRecord struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`

	// Size is the decoded byte length. Zero-byte attachments are
	// skipped during extraction.
	Size int `json:"size"`

	// Data holds the content bytes re-encoded as standard base64 for
	// transport and storage.
	Data string `json:"data"`

	// ContentID is the Content-ID header with angle brackets stripped.
	ContentID string `json:"content_id"`

	// ContentDisposition is the lowercased Content-Disposition header.
	ContentDisposition string `json:"content_disposition"`
}
