package receipt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"finrep/internal/domain"
)

const (
	hkdfSalt = "finrep-receipts"
	hkdfInfo = "receipt-signing-v1"
)

// ErrEmptySecret is returned when no signing secret is configured.
var ErrEmptySecret = errors.New("receipt signing secret is empty")

// Signer produces and checks keyed receipt signatures. The HMAC key is derived from the
// shared secret with HKDF-SHA256.
type Signer struct {
	key []byte
}

// NewSigner derives the signing key from secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving receipt key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Canonical is the signed subset of a receipt, one field per position.
func Canonical(r *domain.Receipt) string {
	return strings.Join([]string{
		r.CallID.String(),
		r.RunID.String(),
		string(r.Kind),
		r.Provider,
		r.Model,
		string(r.Transport),
		strconv.Itoa(r.HTTPStatus),
		strconv.FormatInt(r.LatencyMs, 10),
		r.PromptHash,
		r.InputHash,
		r.ResponseHash,
		r.Error,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// Sign returns the hex HMAC-SHA256 of the receipt's canonical form.
func (s *Signer) Sign(r *domain.Receipt) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(Canonical(r)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether r carries a signature produced with this signer's secret.
func (s *Signer) Verify(r *domain.Receipt) bool {
	want, err := hex.DecodeString(r.Signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(Canonical(r)))
	return hmac.Equal(mac.Sum(nil), want)
}

// Hash is the hex SHA-256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashImages hashes an ordered list of images. It returns "" when there are none.
func HashImages(images [][]byte) string {
	if len(images) == 0 {
		return ""
	}
	h := sha256.New()
	for _, img := range images {
		sum := sha256.Sum256(img)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
