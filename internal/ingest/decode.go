package ingest

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// fallbackEncodings is the ordered charset ladder tried when a part's
// declared charset is missing, unknown, or produces garbage. Mirrors
// the charsets seen in the wild on the accounts this serves: mislabeled
// Chinese mail first, then the latin1 family. ISO 8859-1 accepts any
// byte, so the ladder itself cannot fail; the lossy UTF-8 scrub below
// is kept as a guarantee rather than a reachable path.
var fallbackEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	simplifiedchinese.GBK, // covers gb2312 labels too
	traditionalchinese.Big5,
	charmap.ISO8859_1,
}

// DecodeBytes converts raw part bytes to a string, trying the declared
// charset first and falling back through the encoding ladder. It never
// fails: as a last resort the bytes are scrubbed to valid UTF-8 with
// undecodable sequences dropped.
func DecodeBytes(b []byte, declaredCharset string) string {
	if len(b) == 0 {
		return ""
	}

	if declaredCharset != "" {
		if s, ok := decodeAs(b, declaredCharset); ok {
			return s
		}
	}

	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range fallbackEncodings {
		if s, ok := decodeStrict(b, enc); ok {
			return s
		}
	}

	return string(bytes.ToValidUTF8(b, nil))
}

// decodeAs decodes b as the named charset. Returns false when the
// charset is unknown, the bytes do not decode cleanly, or (for UTF-8
// labels) the bytes are not actually valid UTF-8 — mislabeled mail is
// common enough that a declared charset is a hint, not a promise.
func decodeAs(b []byte, name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "utf-8", "utf8", "us-ascii", "ascii":
		if utf8.Valid(b) {
			return string(b), true
		}
		return "", false
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	return decodeStrict(b, enc)
}

// decodeStrict decodes b with enc, rejecting output where the decoder
// substituted replacement characters. x/text decoders do not error on
// invalid input, so the substitution is the only failure signal.
func decodeStrict(b []byte, enc encoding.Encoding) (string, bool) {
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// headerDecoder decodes RFC 2047 encoded words, resolving charsets
// through the same ladder machinery as body decoding.
var headerDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		b, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		return strings.NewReader(DecodeBytes(b, charset)), nil
	},
}

// DecodeHeader decodes MIME encoded words in a header value (Subject,
// From, To). Undecodable input is returned as-is rather than failing
// the message.
func DecodeHeader(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// StripHTML removes tags from an HTML body, returning the text content
// for preview purposes. Script and style bodies are dropped entirely.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}

	var sb strings.Builder
	tok := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			name, _ := tok.TagName()
			if n := string(name); n == "script" || n == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			if n := string(name); (n == "script" || n == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(tok.Text())
			}
		}
	}
}

// previewLimit is the preview length in characters. Longer bodies are
// truncated with a trailing ellipsis marker.
const previewLimit = 500

// Preview truncates body text to the preview length. Input at or under
// the limit is returned unchanged.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit]) + "..."
}

// previewSource picks the text a preview is built from: the plain body
// when present, otherwise the HTML body stripped of tags.
func previewSource(plainBody, htmlBody string) string {
	src := plainBody
	if src == "" {
		src = StripHTML(htmlBody)
	}
	return strings.TrimSpace(src)
}
