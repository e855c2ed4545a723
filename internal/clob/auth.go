package clob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// l2Headers builds the POLY_* header set for an authenticated request. The
// canonical message is timestamp + method + path + body, HMAC-SHA256 signed
// with the base64-decoded API secret, emitted as base64url.
func (c *Client) l2Headers(method, path string, body []byte) (http.Header, error) {
	if !c.HasAuth() {
		return nil, fmt.Errorf("api credentials not configured")
	}
	ts := time.Now().UTC().Unix()
	sig, err := buildHmacSignature(c.creds.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	if c.signer != nil {
		h.Set("POLY_ADDRESS", c.signer.Address())
	}
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	h.Set("POLY_API_KEY", c.creds.APIKey)
	h.Set("POLY_PASSPHRASE", c.creds.Passphrase)
	return h, nil
}

func buildHmacSignature(secret string, timestamp int64, method, path string, body []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(32 + len(method) + len(path) + len(body))
	sb.WriteString(strconv.FormatInt(timestamp, 10))
	sb.WriteString(method)
	sb.WriteString(path)
	if body != nil {
		sb.Write(body)
	}

	decoded, err := base64.StdEncoding.DecodeString(sanitizeBase64Secret(secret))
	if err != nil {
		return "", fmt.Errorf("decode base64 secret: %w", err)
	}

	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(sb.String()))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	// URL-safe alphabet, padding kept.
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}

// sanitizeBase64Secret accepts base64url secrets and strips anything outside
// the base64 alphabet before decoding.
func sanitizeBase64Secret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.ReplaceAll(secret, "-", "+")
	secret = strings.ReplaceAll(secret, "_", "/")

	var b strings.Builder
	b.Grow(len(secret))
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '+' || c == '/' || c == '=':
			b.WriteByte(c)
		}
	}
	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}
