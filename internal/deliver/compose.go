package deliver

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// FileAttachment reads a file from disk into a KindFile attachment,
// guessing the content type from the extension.
func FileAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Attachment{
		Kind:        KindFile,
		Filename:    filepath.Base(path),
		ContentType: ct,
		Data:        base64.StdEncoding.EncodeToString(data),
	}, nil
}

// composeMessage builds the full RFC 5322 message for one attempt.
// Messages without attachments stay single-part; any attachment (file
// or video link) switches to multipart. Undecodable file attachments
// are logged and skipped rather than failing the whole message.
func (e *Engine) composeMessage(cfg ServerConfig, opts Options) ([]byte, error) {
	display := opts.SenderName
	if display == "" {
		display = cfg.SenderName
	}
	if display == "" {
		display = cfg.FromAddress
	}

	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	h.SetSubject(opts.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: display, Address: cfg.FromAddress}})

	toList := make([]*mail.Address, len(opts.Recipients))
	for i, rcpt := range opts.Recipients {
		toList[i] = &mail.Address{Address: rcpt}
	}
	h.SetAddressList("To", toList)

	contentType := "text/plain"
	if opts.HTML {
		contentType = "text/html"
	}

	body := opts.Body
	if opts.HTML {
		if block := videoLinkBlock(opts.Attachments); block != "" {
			body += block
		}
	}

	var buf bytes.Buffer

	if len(opts.Attachments) == 0 {
		h.Set("Content-Type", contentType+"; charset=utf-8")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message body: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("write message body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("finish message body: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create multipart message: %w", err)
	}

	var ih mail.InlineHeader
	ih.Set("Content-Type", contentType+"; charset=utf-8")
	iw, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(iw, body); err != nil {
		return nil, fmt.Errorf("write body part: %w", err)
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("finish body part: %w", err)
	}

	for i, att := range opts.Attachments {
		if att.Kind != KindFile {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			e.logger.Warn("skipping undecodable attachment",
				"index", i, "filename", att.Filename, "error", err)
			continue
		}

		var ah mail.AttachmentHeader
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.Set("Content-Type", ct)
		name := att.Filename
		if name == "" {
			name = fmt.Sprintf("attachment_%d", i+1)
		}
		ah.SetFilename(name)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			e.logger.Warn("skipping attachment",
				"index", i, "filename", name, "error", err)
			continue
		}
		if _, err := aw.Write(raw); err != nil {
			aw.Close()
			return nil, fmt.Errorf("write attachment %s: %w", name, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("finish attachment %s: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart message: %w", err)
	}
	return buf.Bytes(), nil
}

// videoLinkBlock renders video-link pseudo-attachments as an HTML
// block of thumbnail anchors. Returns "" when there are none.
func videoLinkBlock(attachments []Attachment) string {
	var sb strings.Builder
	for _, att := range attachments {
		if att.Kind != KindVideo {
			continue
		}
		url := att.URL
		if url == "" && att.VideoID != "" {
			url = "https://www.youtube.com/watch?v=" + att.VideoID
		}
		thumb := att.ThumbnailURL
		if thumb == "" && att.VideoID != "" {
			thumb = "https://img.youtube.com/vi/" + att.VideoID + "/0.jpg"
		}
		if url == "" {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("<br><br><strong>Video Links:</strong><br>")
		}
		sb.WriteString(fmt.Sprintf(
			`<a href="%s" target="_blank"><img src="%s" alt="Video" style="max-width: 200px; margin: 5px;"></a>`,
			url, thumb))
	}
	return sb.String()
}
