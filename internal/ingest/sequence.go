package ingest

import (
	"net/mail"
	"strings"
	"time"
	"unicode"
)

// SequenceCode builds the deterministic correlation key for a message:
// yyyymmdd_hhmmss_<2-char-prefix>_<domain-label>. The prefix is the
// first two alphabetic characters of the sender's local part (padded
// with 'x' when there is only one, "xx" when there are none); the
// domain label is the alphanumeric content of the first label of the
// sender's domain, or "domain" when that yields nothing. The code is a
// pure function of its inputs — no randomness — so it is stable across
// fetches and usable as a human-scannable key in exports and UI flows.
func SequenceCode(fromAddress string, t time.Time) string {
	var sb strings.Builder
	sb.WriteString(t.Format("20060102_150405"))
	sb.WriteByte('_')

	localPart, domainPart := splitAddress(fromAddress)

	var letters []rune
	for _, r := range localPart {
		if unicode.IsLetter(r) {
			letters = append(letters, unicode.ToLower(r))
		}
		if len(letters) == 2 {
			break
		}
	}
	switch len(letters) {
	case 2:
		sb.WriteRune(letters[0])
		sb.WriteRune(letters[1])
	case 1:
		sb.WriteRune(letters[0])
		sb.WriteByte('x')
	default:
		sb.WriteString("xx")
	}
	sb.WriteByte('_')

	var label strings.Builder
	if domainPart != "" {
		first, _, _ := strings.Cut(domainPart, ".")
		for _, r := range first {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				label.WriteRune(unicode.ToLower(r))
			}
		}
	}
	if label.Len() == 0 {
		sb.WriteString("domain")
	} else {
		sb.WriteString(label.String())
	}

	return sb.String()
}

// splitAddress extracts the lowercased local part and domain from a
// From header value, tolerating display names ("Name <addr@host>") and
// malformed input. A missing domain leaves domain empty.
func splitAddress(from string) (local, domain string) {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	} else if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.LastIndex(from, ">"); end > start {
			addr = from[start+1 : end]
		}
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return "", ""
	}

	local, domain, found := strings.Cut(addr, "@")
	if !found {
		return addr, ""
	}
	return local, domain
}
