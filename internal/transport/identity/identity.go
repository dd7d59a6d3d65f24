// Package identity authenticates caller account ids.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

const (
	HeaderAccountID = "X-Account-Id"
	HeaderToken     = "X-Account-Token"

	maxAccountLen = 128
)

var (
	ErrMissingAccount = errors.New("missing account id")
	ErrBadToken       = errors.New("invalid account token")
)

// Verifier checks that a token is hex(HMAC-SHA256(secret, account)). With an
// empty secret every non-empty account id is accepted as sent.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Enabled() bool { return v != nil && len(v.secret) > 0 }

// Token issues the token for account. It is empty when no secret is set.
func (v *Verifier) Token(account string) string {
	if !v.Enabled() {
		return ""
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(account))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify returns the trimmed account id when token is valid for it.
func (v *Verifier) Verify(account, token string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" || len(account) > maxAccountLen {
		return "", ErrMissingAccount
	}
	if !v.Enabled() {
		return account, nil
	}
	want := v.Token(account)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(token)))) {
		return "", ErrBadToken
	}
	return account, nil
}

// FromRequest reads the identity headers. found is false when no account id
// header was sent at all.
func (v *Verifier) FromRequest(r *http.Request) (account string, found bool, err error) {
	raw := r.Header.Get(HeaderAccountID)
	if strings.TrimSpace(raw) == "" {
		return "", false, nil
	}
	account, err = v.Verify(raw, r.Header.Get(HeaderToken))
	return account, true, err
}
