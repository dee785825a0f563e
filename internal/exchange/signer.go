package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Signer produces the authentication headers for venue REST requests.
// The signature is HMAC-SHA256 over timestamp + method + requestPath +
// body, base64 encoded.
type Signer struct {
	apiKey     string
	secret     []byte
	passphrase string
}

func NewSigner(apiKey, apiSecret, passphrase string) (*Signer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	if strings.TrimSpace(apiSecret) == "" {
		return nil, errors.New("api secret is required")
	}
	return &Signer{
		apiKey:     apiKey,
		secret:     []byte(apiSecret),
		passphrase: passphrase,
	}, nil
}

func (s *Signer) Sign(timestamp, method, requestPath string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(requestPath))
	if len(body) > 0 {
		mac.Write(body)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers returns the full auth header set for one request.
func (s *Signer) Headers(now time.Time, method, requestPath string, body []byte) map[string]string {
	timestamp := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return map[string]string{
		"OK-ACCESS-KEY":        s.apiKey,
		"OK-ACCESS-SIGN":       s.Sign(timestamp, method, requestPath, body),
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": s.passphrase,
	}
}
