// Package config handles mailtask configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gopkg.in/yaml.v3"

	"github.com/mailtask/mailtask/internal/deliver"
	"github.com/mailtask/mailtask/internal/ingest"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mailtask/config.yaml, /etc/mailtask/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mailtask", "config.yaml"))
	}

	paths = append(paths, "/etc/mailtask/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mailtask configuration.
type Config struct {
	Database DatabaseConfig         `yaml:"database"`
	Accounts []AccountConfig        `yaml:"accounts"`
	Gmail    GmailConfig            `yaml:"gmail"`
	SMTP     []deliver.ServerConfig `yaml:"smtp_servers"`
	Fetch    FetchConfig            `yaml:"fetch"`
	LogLevel string                 `yaml:"log_level"`
}

// DatabaseConfig defines where message and token state lives.
type DatabaseConfig struct {
	// Path is the SQLite database file. Default: mailtask.db.
	Path string `yaml:"path"`
}

// AccountConfig names one IMAP account.
type AccountConfig struct {
	// Name identifies the account on the command line and in logs.
	// Defaults to the IMAP username.
	Name string `yaml:"name"`

	IMAP ingest.IMAPConfig `yaml:",inline"`
}

// GmailConfig holds the OAuth application credentials used to refresh
// stored Gmail tokens. Tokens themselves live in the database.
type GmailConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// OAuthConfig builds the oauth2 application config used to refresh
// stored tokens against Google's endpoint.
func (g *GmailConfig) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RedirectURL:  g.RedirectURL,
		Scopes:       g.Scopes,
		Endpoint:     google.Endpoint,
	}
}

// FetchConfig sets defaults for fetch operations, overridable per run
// with flags.
type FetchConfig struct {
	// Limit caps messages per fetch. Default: 50.
	Limit int `yaml:"limit"`

	// DaysBack sets the ingestion window. 0 means today only.
	DaysBack int `yaml:"days_back"`

	// Folder is the IMAP mailbox to fetch from. Default: INBOX.
	Folder string `yaml:"folder"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "mailtask.db"},
		Fetch: FetchConfig{
			Limit:  50,
			Folder: "INBOX",
		},
	}
}

// ApplyDefaults fills in derived and missing values after unmarshal.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "mailtask.db"
	}
	if c.Fetch.Limit <= 0 {
		c.Fetch.Limit = 50
	}
	if c.Fetch.DaysBack < 0 {
		c.Fetch.DaysBack = 0
	}
	if c.Fetch.Folder == "" {
		c.Fetch.Folder = "INBOX"
	}
	for i := range c.Accounts {
		acct := &c.Accounts[i]
		if acct.Name == "" {
			acct.Name = acct.IMAP.Username
		}
		if acct.IMAP.Port == 0 {
			if acct.IMAP.TLS {
				acct.IMAP.Port = 993
			} else {
				acct.IMAP.Port = 143
			}
		}
	}
	if len(c.Gmail.Scopes) == 0 {
		c.Gmail.Scopes = []string{"https://www.googleapis.com/auth/gmail.readonly"}
	}
	c.SMTP = deliver.SanitizeConfigs(c.SMTP)
}

// Validate checks the configuration for errors that would only surface
// later at connect time.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.IMAP.Host == "" {
			return fmt.Errorf("accounts[%d]: missing host", i)
		}
		if acct.IMAP.Username == "" {
			return fmt.Errorf("accounts[%d] (%s): missing username", i, acct.IMAP.Host)
		}
		if seen[acct.Name] {
			return fmt.Errorf("duplicate account name %q", acct.Name)
		}
		seen[acct.Name] = true
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Account returns the named account, or the sole configured account
// when name is empty and exactly one exists.
func (c *Config) Account(name string) (*AccountConfig, error) {
	if name == "" {
		if len(c.Accounts) == 1 {
			return &c.Accounts[0], nil
		}
		return nil, fmt.Errorf("account name required (%d accounts configured)", len(c.Accounts))
	}
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("unknown account %q", name)
}
