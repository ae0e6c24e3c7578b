package ingest

import "strings"

// PartClass is the outcome of classifying one MIME leaf part.
type PartClass int

const (
	// PartBody marks text content destined for the plain or HTML body.
	PartBody PartClass = iota

	// PartAttachment marks content captured as an AttachmentRecord.
	PartAttachment
)

// ClassifyPart decides whether a leaf part is an attachment or body
// content. A part is an attachment when it carries an explicit
// attachment disposition, when it names a file, or when its content
// type is neither text/plain, text/html, nor a multipart container and
// it is not marked inline. Everything else is body content.
//
// The rule is deliberately a free function of the three header facts so
// it can be tested independently of MIME traversal, and so the IMAP and
// Gmail walkers cannot drift apart.
func ClassifyPart(disposition string, hasFilename bool, contentType string) PartClass {
	disposition = strings.ToLower(disposition)
	contentType = strings.ToLower(contentType)

	if strings.Contains(disposition, "attachment") {
		return PartAttachment
	}
	if hasFilename {
		return PartAttachment
	}

	switch {
	case contentType == "text/plain", contentType == "text/html":
		return PartBody
	case strings.HasPrefix(contentType, "multipart/"):
		return PartBody
	}
	if strings.Contains(disposition, "inline") {
		return PartBody
	}
	return PartAttachment
}

// cleanContentID strips surrounding whitespace and angle brackets from
// a Content-ID header value.
func cleanContentID(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}
