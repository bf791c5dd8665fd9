package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
)

// DefaultEFIVarsDir is where efivarfs is mounted.
const DefaultEFIVarsDir = "/sys/firmware/efi/efivars"

// EFI variables provisioned by the platform owner.
const (
	kbsURLVar      = "KBSURL-0d9b4a60-e0bf-4a66-b9b1-db1b98f87770"
	kbsCertVar     = "KBSCert-d2bf05a0-f7f8-41b6-b0ff-ad1a31c34d37"
	kbsUserDataVar = "KBSUserData-732284dd-70c4-472a-aa45-1ffda02caf74"

	// efivarfs prefixes every variable with its 4-byte attribute mask.
	efiAttrLen = 4
)

// UserData is the JSON document stored in the KBSUserData variable.
type UserData struct {
	KeyID uuid.UUID `json:"keyid"`
	Token string    `json:"token,omitempty"`
}

// KBSParams locates and authenticates the key broker.
type KBSParams struct {
	URL      string
	Cert     []byte
	UserData UserData
}

// LoadKBSParams reads the broker parameters from efivarfs at dir.
// The certificate variable is optional.
func LoadKBSParams(dir string) (*KBSParams, error) {
	rawURL, err := readEFIVar(dir, kbsURLVar)
	if err != nil {
		return nil, err
	}
	url := normalizeKBSURL(string(rawURL))
	if url == "" {
		return nil, fmt.Errorf("%w: %s is empty", failure.ErrFormat, kbsURLVar)
	}

	cert, err := readEFIVar(dir, kbsCertVar)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logx.Debugf("kbs.params no %s variable, using system roots only", kbsCertVar)
		cert = nil
	}

	rawUser, err := readEFIVar(dir, kbsUserDataVar)
	if err != nil {
		return nil, err
	}
	var user UserData
	if err := json.Unmarshal(trimEFIString(rawUser), &user); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", failure.ErrFormat, kbsUserDataVar, err)
	}
	if user.KeyID == uuid.Nil {
		return nil, fmt.Errorf("%w: %s has no keyid", failure.ErrFormat, kbsUserDataVar)
	}

	return &KBSParams{URL: url, Cert: cert, UserData: user}, nil
}

func readEFIVar(dir, name string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: read EFI variable %s: %w", failure.ErrIO, name, err)
	}
	if len(raw) < efiAttrLen {
		return nil, fmt.Errorf("%w: EFI variable %s is %d bytes", failure.ErrFormat, name, len(raw))
	}
	return raw[efiAttrLen:], nil
}

func trimEFIString(b []byte) []byte {
	return []byte(strings.Trim(string(b), "\x00 \t\r\n"))
}

// normalizeKBSURL accepts a bare host or a full URL.
func normalizeKBSURL(v string) string {
	v = normalizeServerURL(string(trimEFIString([]byte(v))))
	if v == "" {
		return ""
	}
	if !strings.Contains(v, "://") {
		v = "https://" + v
	}
	return v
}
