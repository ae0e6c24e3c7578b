package ingest

import (
	"encoding/base64"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWindow() Window {
	// Wide window so synthetic message dates stay admissible.
	return NewWindow(time.Date(2024, 6, 15, 12, 0, 0, 0, time.Local), 36500)
}

const simpleMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Lunch plans\r\n" +
	"Date: Mon, 10 Jun 2024 10:30:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Let's meet at noon.\r\n"

func TestIMAPNormalize_SimpleMessage(t *testing.T) {
	f := NewIMAPFetcher(IMAPConfig{}, testLogger())

	rec, err := f.normalize("42", []byte(simpleMessage), testWindow())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec == nil {
		t.Fatal("record discarded")
	}

	if rec.ID != "42" {
		t.Errorf("id = %q", rec.ID)
	}
	if rec.Subject != "Lunch plans" {
		t.Errorf("subject = %q", rec.Subject)
	}
	if !strings.Contains(rec.From, "alice@example.com") {
		t.Errorf("from = %q", rec.From)
	}
	if !strings.Contains(rec.PlainBody, "meet at noon") {
		t.Errorf("plain body = %q", rec.PlainBody)
	}
	if rec.Preview == "" {
		t.Error("preview empty")
	}
	if want := rec.ParsedDate.Format("20060102_150405"); !strings.HasPrefix(rec.Sequence, want) {
		t.Errorf("sequence = %q, want %s prefix", rec.Sequence, want)
	}
	if !strings.HasSuffix(rec.Sequence, "_al_example") {
		t.Errorf("sequence = %q, want _al_example suffix", rec.Sequence)
	}
}

func TestIMAPNormalize_MultipartWithAttachment(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Report\r\n" +
		"Date: Mon, 10 Jun 2024 10:30:00 +0000\r\n" +
		"Content-Type: multipart/mixed; boundary=XBOUND\r\n" +
		"\r\n" +
		"--XBOUND\r\n" +
		"Content-Type: multipart/alternative; boundary=XALT\r\n" +
		"\r\n" +
		"--XALT\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain version\r\n" +
		"--XALT\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html version</p>\r\n" +
		"--XALT--\r\n" +
		"--XBOUND\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		base64.StdEncoding.EncodeToString([]byte("%PDF-fake")) + "\r\n" +
		"--XBOUND--\r\n"

	f := NewIMAPFetcher(IMAPConfig{}, testLogger())
	rec, err := f.normalize("7", []byte(raw), testWindow())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec == nil {
		t.Fatal("record discarded")
	}

	if !strings.Contains(rec.PlainBody, "plain version") {
		t.Errorf("plain body = %q", rec.PlainBody)
	}
	if !strings.Contains(rec.HTMLBody, "html version") {
		t.Errorf("html body = %q", rec.HTMLBody)
	}
	if len(rec.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(rec.Attachments))
	}
	att := rec.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("filename = %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("content type = %q", att.ContentType)
	}
	decoded, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil || string(decoded) != "%PDF-fake" {
		t.Errorf("attachment data = %q (%v)", att.Data, err)
	}
	if att.Size != len("%PDF-fake") {
		t.Errorf("size = %d", att.Size)
	}

	// Preview prefers the plain body.
	if !strings.Contains(rec.Preview, "plain version") {
		t.Errorf("preview = %q", rec.Preview)
	}
}

func TestIMAPNormalize_MislabeledCharset(t *testing.T) {
	// Body bytes are gb18030 but the header claims utf-8. The decode
	// ladder must still recover the text.
	const text = "会议纪要"
	gb, err := simplifiedchinese.GB18030.NewEncoder().String(text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw := "From: chen@example.cn\r\n" +
		"Subject: =?utf-8?B?5Lya6K6u?=\r\n" +
		"Date: Mon, 10 Jun 2024 10:30:00 +0800\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		gb + "\r\n"

	f := NewIMAPFetcher(IMAPConfig{}, testLogger())
	rec, err := f.normalize("9", []byte(raw), testWindow())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec == nil {
		t.Fatal("record discarded")
	}
	if !strings.Contains(rec.PlainBody, text) {
		t.Errorf("plain body = %q, want %q recovered", rec.PlainBody, text)
	}
	if rec.Subject != "会议" {
		t.Errorf("subject = %q", rec.Subject)
	}
}

func TestIMAPNormalize_OutsideWindowDiscarded(t *testing.T) {
	f := NewIMAPFetcher(IMAPConfig{}, testLogger())

	// Window admits only days around 2030; the message is from 2024.
	w := NewWindow(time.Date(2030, 1, 1, 0, 0, 0, 0, time.Local), 0)
	rec, err := f.normalize("1", []byte(simpleMessage), w)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec != nil {
		t.Errorf("out-of-window message kept: %+v", rec)
	}
}

func TestIMAPNormalize_UnparsableDateDiscarded(t *testing.T) {
	raw := strings.Replace(simpleMessage,
		"Date: Mon, 10 Jun 2024 10:30:00 +0000", "Date: not a date", 1)

	f := NewIMAPFetcher(IMAPConfig{}, testLogger())
	rec, err := f.normalize("1", []byte(raw), testWindow())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec != nil {
		t.Error("message with unparsable date kept")
	}
}

func TestIMAPNormalize_MalformedMessage(t *testing.T) {
	f := NewIMAPFetcher(IMAPConfig{}, testLogger())
	if _, err := f.normalize("1", []byte("\x00\x01 not a message"), testWindow()); err == nil {
		// Some malformed input still parses as a headerless message;
		// either outcome is acceptable as long as it does not panic.
		t.Log("malformed input parsed leniently")
	}
}
