package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("database:\n  path: test.db\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's config.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("database:\n  path: test.db\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("accounts:\n  - host: imap.example.com\n    username: u@example.com\n    password: ${MAILTASK_TEST_PASSWORD}\n"), 0600)
	os.Setenv("MAILTASK_TEST_PASSWORD", "secret123")
	defer os.Unsetenv("MAILTASK_TEST_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := cfg.Accounts[0].IMAP.Password; got != "secret123" {
		t.Errorf("password = %q, want %q", got, "secret123")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
accounts:
  - host: imap.example.com
    username: u@example.com
    password: p
    tls: true
smtp_servers:
  - host: smtp.example.com
    username: u@example.com
    password: p
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Database.Path != "mailtask.db" {
		t.Errorf("database path = %q, want default", cfg.Database.Path)
	}
	if cfg.Fetch.Limit != 50 {
		t.Errorf("fetch limit = %d, want 50", cfg.Fetch.Limit)
	}
	if cfg.Fetch.Folder != "INBOX" {
		t.Errorf("fetch folder = %q, want INBOX", cfg.Fetch.Folder)
	}

	acct := cfg.Accounts[0]
	if acct.Name != "u@example.com" {
		t.Errorf("account name = %q, want username fallback", acct.Name)
	}
	if acct.IMAP.Port != 993 {
		t.Errorf("TLS account port = %d, want 993", acct.IMAP.Port)
	}

	if len(cfg.SMTP) != 1 {
		t.Fatalf("smtp servers = %d, want 1", len(cfg.SMTP))
	}
	if cfg.SMTP[0].Port != 587 {
		t.Errorf("smtp port = %d, want 587", cfg.SMTP[0].Port)
	}

	if len(cfg.Gmail.Scopes) == 0 {
		t.Error("gmail scopes default not applied")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Accounts = []AccountConfig{{Name: "work"}}
		cfg.Accounts[0].IMAP.Host = "imap.example.com"
		cfg.Accounts[0].IMAP.Username = "u@example.com"
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})

	t.Run("missing host", func(t *testing.T) {
		cfg := base()
		cfg.Accounts[0].IMAP.Host = ""
		if cfg.Validate() == nil {
			t.Error("missing host accepted")
		}
	})

	t.Run("missing username", func(t *testing.T) {
		cfg := base()
		cfg.Accounts[0].IMAP.Username = ""
		if cfg.Validate() == nil {
			t.Error("missing username accepted")
		}
	})

	t.Run("duplicate account name", func(t *testing.T) {
		cfg := base()
		cfg.Accounts = append(cfg.Accounts, cfg.Accounts[0])
		if cfg.Validate() == nil {
			t.Error("duplicate account name accepted")
		}
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := base()
		cfg.LogLevel = "loud"
		if cfg.Validate() == nil {
			t.Error("bad log level accepted")
		}
	})
}

func TestAccount(t *testing.T) {
	cfg := Default()
	cfg.Accounts = []AccountConfig{{Name: "work"}, {Name: "personal"}}

	if _, err := cfg.Account("work"); err != nil {
		t.Errorf("Account(work) error: %v", err)
	}
	if _, err := cfg.Account("missing"); err == nil {
		t.Error("unknown account accepted")
	}
	if _, err := cfg.Account(""); err == nil {
		t.Error("empty name with two accounts should error")
	}

	cfg.Accounts = cfg.Accounts[:1]
	acct, err := cfg.Account("")
	if err != nil {
		t.Fatalf("Account(\"\") with one account: %v", err)
	}
	if acct.Name != "work" {
		t.Errorf("sole account = %q", acct.Name)
	}
}
