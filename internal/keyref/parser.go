package keyref

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const refPrefix = "kbs://"

// Ref is a parsed key broker reference.
//
//	kbs://<host>[:port]/keys/<key-uuid>
type Ref struct {
	Host  string
	KeyID uuid.UUID
	Raw   string
}

// IsRef reports whether value starts with "kbs://".
func IsRef(value string) bool {
	return strings.HasPrefix(value, refPrefix)
}

// Parse parses a kbs://<host>/keys/<uuid> reference.
func Parse(ref string) (Ref, error) {
	if !IsRef(ref) {
		return Ref{}, fmt.Errorf("not a kbs reference: %q", ref)
	}

	parts := strings.Split(strings.TrimPrefix(ref, refPrefix), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] != "keys" || parts[2] == "" {
		return Ref{}, fmt.Errorf("invalid kbs reference %q: expected kbs://<host>/keys/<key-uuid>", ref)
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return Ref{}, fmt.Errorf("invalid kbs reference %q: key id: %w", ref, err)
	}
	return Ref{Host: parts[0], KeyID: id, Raw: ref}, nil
}

// URL is the broker base URL the reference points at.
func (r Ref) URL() string {
	return "https://" + r.Host
}

func (r Ref) String() string {
	return refPrefix + r.Host + "/keys/" + r.KeyID.String()
}
