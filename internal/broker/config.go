package broker

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/aspect-build/attestkit/internal/crypto"
)

// Quote verifier backends selectable with KBS_DEV_QUOTE_VERIFIER.
const (
	VerifierDCAP     = "dcap"
	VerifierInsecure = "insecure"
)

// Config holds broker configuration loaded from environment variables.
type Config struct {
	MasterKey     [crypto.MasterKeyLen]byte
	AdminToken    string
	DBPath        string
	ListenAddr    string
	TLSCert       string
	TLSKey        string
	QuoteVerifier string
	AllowWarnings bool
}

// LoadConfig loads broker configuration from KBS_DEV_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AdminToken:    os.Getenv("KBS_DEV_ADMIN_TOKEN"),
		DBPath:        envOr("KBS_DEV_DB_PATH", "kbs.db"),
		ListenAddr:    envOr("KBS_DEV_LISTEN_ADDR", ":8443"),
		TLSCert:       os.Getenv("KBS_DEV_TLS_CERT"),
		TLSKey:        os.Getenv("KBS_DEV_TLS_KEY"),
		QuoteVerifier: strings.ToLower(envOr("KBS_DEV_QUOTE_VERIFIER", VerifierDCAP)),
	}

	masterHex := strings.TrimSpace(os.Getenv("KBS_DEV_MASTER_KEY"))
	if masterHex == "" {
		return nil, fmt.Errorf("KBS_DEV_MASTER_KEY is required")
	}
	raw, err := hex.DecodeString(masterHex)
	if err != nil || len(raw) != crypto.MasterKeyLen {
		return nil, fmt.Errorf("KBS_DEV_MASTER_KEY must be %d hex characters", 2*crypto.MasterKeyLen)
	}
	copy(cfg.MasterKey[:], raw)
	clear(raw)

	if cfg.AdminToken == "" {
		return nil, fmt.Errorf("KBS_DEV_ADMIN_TOKEN is required")
	}
	if len(cfg.AdminToken) < 16 {
		return nil, fmt.Errorf("KBS_DEV_ADMIN_TOKEN must be at least 16 characters")
	}

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("KBS_DEV_TLS_CERT and KBS_DEV_TLS_KEY must be set together")
	}

	switch cfg.QuoteVerifier {
	case VerifierDCAP, VerifierInsecure:
	default:
		return nil, fmt.Errorf("KBS_DEV_QUOTE_VERIFIER must be %q or %q", VerifierDCAP, VerifierInsecure)
	}

	cfg.AllowWarnings, err = envBool("KBS_DEV_ALLOW_WARNINGS", true)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// TLSEnabled reports whether the broker serves HTTPS itself.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be one of true/false/1/0/yes/no/on/off", name)
	}
}
