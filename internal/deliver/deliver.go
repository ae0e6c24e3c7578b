// Package deliver sends outbound mail through an ordered list of SMTP
// server configurations. Servers are tried first to last; the first
// successful delivery wins and later configs are never touched. Every
// failed attempt is captured individually so the caller sees exactly
// which server failed with what.
package deliver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// defaultTimeout applies to configs that specify none.
const defaultTimeout = 10 * time.Second

// ServerConfig describes one SMTP server. An ordered list of these
// encodes fallback priority.
type ServerConfig struct {
	// Name identifies the server in results, logs, and attempt errors.
	// Defaults to Host.
	Name string `yaml:"name"`

	// Host is the SMTP server hostname.
	Host string `yaml:"host"`

	// Port is the SMTP server port. Default: 465 with use_ssl,
	// otherwise 587.
	Port int `yaml:"port"`

	// UseSSL connects over implicit TLS (SMTPS).
	UseSSL bool `yaml:"use_ssl"`

	// UseTLS upgrades a plaintext connection via STARTTLS. Ignored
	// when UseSSL is set.
	UseTLS bool `yaml:"use_tls"`

	// Username is the SMTP login username.
	Username string `yaml:"username"`

	// Password is the SMTP login password.
	Password string `yaml:"password"`

	// TimeoutSec bounds the whole SMTP session for this server.
	// Default: 10.
	TimeoutSec int `yaml:"timeout"`

	// SenderName is the default display name for the From header.
	SenderName string `yaml:"sender_name"`

	// FromAddress is the envelope and header sender. Defaults to
	// Username.
	FromAddress string `yaml:"from_address"`
}

// SanitizeConfigs drops configs missing host, username, or password
// and fills defaults on the survivors. Order is preserved — it encodes
// fallback priority.
func SanitizeConfigs(configs []ServerConfig) []ServerConfig {
	sanitized := make([]ServerConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
			continue
		}
		if cfg.Port == 0 {
			if cfg.UseSSL {
				cfg.Port = 465
			} else {
				cfg.Port = 587
			}
		}
		if cfg.TimeoutSec <= 0 {
			cfg.TimeoutSec = int(defaultTimeout / time.Second)
		}
		if cfg.FromAddress == "" {
			cfg.FromAddress = cfg.Username
		}
		if cfg.Name == "" {
			cfg.Name = cfg.Host
		}
		sanitized = append(sanitized, cfg)
	}
	return sanitized
}

// Attachment kinds.
const (
	// KindFile is a regular file blob carried as base64 data.
	KindFile = "file"

	// KindVideo is a pseudo-attachment: nothing is attached, but an
	// HTML block of thumbnail-linked anchors is appended to HTML
	// bodies.
	KindVideo = "video"
)

// Attachment is one outbound attachment or video-link pseudo-attachment.
type Attachment struct {
	Kind        string
	Filename    string
	ContentType string

	// Data is the base64-encoded file content (KindFile).
	Data string

	// VideoID, URL, and ThumbnailURL describe a KindVideo link. URL
	// and ThumbnailURL default to the YouTube watch and thumbnail
	// locations for VideoID.
	VideoID      string
	URL          string
	ThumbnailURL string
}

// Options describes one outbound message.
type Options struct {
	Subject    string
	Body       string
	Recipients []string

	// HTML marks the body as text/html rather than text/plain.
	HTML bool

	// SenderName overrides the config's display name when non-empty.
	SenderName string

	Attachments []Attachment
}

// Result reports a successful delivery: which server carried it, plus
// every failed attempt that preceded it, in try order.
type Result struct {
	Provider string
	Attempts []Attempt
}

// Attempt records one failed delivery attempt.
type Attempt struct {
	Provider string
	Err      error
}

// SendError is returned when every configured server failed (or none
// survived sanitization). Attempts holds one entry per tried server,
// in the order they were tried — never collapsed.
type SendError struct {
	Attempts []Attempt
}

func (e *SendError) Error() string {
	if len(e.Attempts) == 0 {
		return "no usable SMTP server configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Provider, a.Err)
	}
	return fmt.Sprintf("all %d SMTP servers failed: %s",
		len(e.Attempts), strings.Join(parts, "; "))
}

// Engine delivers messages with failover across server configs.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a delivery engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Send tries each sanitized config in order and stops at the first
// success. On exhaustion it returns a *SendError carrying every
// per-server failure. There is no retry of an individual server —
// retry semantics belong to the caller re-invoking Send.
func (e *Engine) Send(ctx context.Context, configs []ServerConfig, opts Options) (*Result, error) {
	configs = SanitizeConfigs(configs)

	var attempts []Attempt
	for _, cfg := range configs {
		if err := e.sendOne(ctx, cfg, opts); err != nil {
			e.logger.Warn("delivery attempt failed",
				"server", cfg.Name, "host", cfg.Host, "error", err)
			attempts = append(attempts, Attempt{Provider: cfg.Name, Err: err})
			continue
		}
		e.logger.Info("message delivered",
			"server", cfg.Name, "recipients", len(opts.Recipients))
		return &Result{Provider: cfg.Name, Attempts: attempts}, nil
	}

	return nil, &SendError{Attempts: attempts}
}

// plainAuth is the PLAIN mechanism without net/smtp's TLS-or-localhost
// restriction. The only remaining check is that the session is with the
// host this config named.
type plainAuth struct {
	username, password, host string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("server name %q does not match configured host %q", server.Name, a.host)
	}
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected server challenge during PLAIN auth")
	}
	return nil, nil
}

// sendOne runs one complete SMTP session against one server: connect,
// authenticate, compose, deliver to all recipients, quit. Any error
// aborts this attempt only.
func (e *Engine) sendOne(ctx context.Context, cfg ServerConfig, opts Options) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	dialTimeout := timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if cfg.UseSSL {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, err)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, err)
		}
	}

	// The session deadline bounds every subsequent read and write.
	_ = conn.SetDeadline(time.Now().Add(timeout))

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if !cfg.UseSSL && cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	// net/smtp's PlainAuth bails out client-side on any unencrypted
	// connection to a non-localhost server, which would make plaintext
	// configs (internal relays, port 25 setups) permanently unable to
	// authenticate. Those use our own PLAIN, pinned to the configured
	// host; encrypted sessions keep the stdlib implementation and its
	// TLS checks.
	var auth smtp.Auth
	if cfg.UseSSL || cfg.UseTLS {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	} else {
		auth = &plainAuth{username: cfg.Username, password: cfg.Password, host: cfg.Host}
	}
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("AUTH: %w", err)
	}

	msg, err := e.composeMessage(cfg, opts)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	if err := client.Mail(cfg.FromAddress); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range opts.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}
