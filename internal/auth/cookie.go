package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const VoteKeyCookie = "votekey"

var ErrInvalidCookie = errors.New("invalid vote key cookie")

// CookieSigner seals vote-key cookies so a client cannot swap in a guessed
// key or another party's identifier without the server secret.
type CookieSigner struct {
	secret []byte
}

func NewCookieSigner(secret string) *CookieSigner {
	return &CookieSigner{secret: []byte(secret)}
}

// Sign returns base64(party_id ":" key) "." base64(hmac).
func (s *CookieSigner) Sign(partyID uuid.UUID, key string) string {
	payload := []byte(partyID.String() + ":" + key)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(s.mac(payload))
}

// Verify checks the signature and returns the party and raw key.
func (s *CookieSigner) Verify(value string) (uuid.UUID, string, error) {
	encPayload, encSig, ok := strings.Cut(value, ".")
	if !ok {
		return uuid.Nil, "", ErrInvalidCookie
	}
	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return uuid.Nil, "", ErrInvalidCookie
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return uuid.Nil, "", ErrInvalidCookie
	}
	if !hmac.Equal(sig, s.mac(payload)) {
		return uuid.Nil, "", ErrInvalidCookie
	}

	rawParty, key, ok := strings.Cut(string(payload), ":")
	if !ok || key == "" {
		return uuid.Nil, "", ErrInvalidCookie
	}
	partyID, err := uuid.Parse(rawParty)
	if err != nil {
		return uuid.Nil, "", ErrInvalidCookie
	}
	return partyID, key, nil
}

func (s *CookieSigner) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return h.Sum(nil)
}
