// Package token implements HMAC-signed capability tokens binding an
// approval to a (client, tool, optional context) tuple.
//
// Wire form: base64url_nopad(canonical_payload_json) "." hex(hmac_sha256).
// The signature covers the base64 bytes as received, so a re-serialized
// payload with the same logical content fails verification.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// Payload is the signed claim set.
type Payload struct {
	ClientID   string `json:"client_id"`
	ToolID     string `json:"tool_id"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
	ContextKey string `json:"context_key,omitempty"`
}

// Generate mints a token for (clientID, toolID) valid for ttl. contextKey
// may be empty for tokens not bound to a call target.
func Generate(clientID, toolID string, ttl time.Duration, secret []byte, contextKey string) (string, error) {
	if clientID == "" || toolID == "" {
		return "", fmt.Errorf("client_id and tool_id are required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("signing secret is empty")
	}

	now := time.Now().UTC()
	claims := map[string]any{
		"client_id": clientID,
		"tool_id":   toolID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	if contextKey != "" {
		claims["context_key"] = contextKey
	}

	// RFC 8785 canonicalization: sorted keys, minimal separators.
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	payload, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + sign([]byte(encoded), secret), nil
}

// Verify checks a token against the expected binding. It returns false on
// any malformation, signature mismatch, expiry, or binding mismatch; it
// never panics. If contextKey is non-empty the payload must carry the same
// context binding.
func Verify(tok, clientID, toolID string, secret []byte, contextKey string) bool {
	encoded, sigHex, ok := strings.Cut(tok, ".")
	if !ok || strings.Contains(sigHex, ".") || encoded == "" || sigHex == "" {
		return false
	}

	// Signature over the received base64 bytes, constant-time compare.
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return false
	}

	payload, err := decodePayload(encoded)
	if err != nil {
		return false
	}
	if payload.ExpiresAt <= time.Now().UTC().Unix() {
		return false
	}
	if payload.ClientID != clientID {
		return false
	}
	if payload.ToolID != toolID {
		return false
	}
	if contextKey != "" && payload.ContextKey != contextKey {
		return false
	}
	return true
}

// Decode parses a token payload WITHOUT verifying the signature. Logging and
// diagnostics only; never use for authorization.
func Decode(tok string) (*Payload, error) {
	encoded, _, ok := strings.Cut(tok, ".")
	if !ok {
		return nil, fmt.Errorf("malformed token")
	}
	return decodePayload(encoded)
}

func decodePayload(encoded string) (*Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return &p, nil
}

func sign(data, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
