package switchbot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Credentials is the token/secret pair issued by the SwitchBot app.
type Credentials struct {
	Token     string
	SecretKey string
}

// String redacts both fields so credentials never end up in logs.
func (c Credentials) String() string {
	return "switchbot.Credentials{REDACTED}"
}

// Headers is the per-request authentication header set. A new set must be
// built for every outbound call; the API rejects a replayed t/nonce pair.
type Headers struct {
	Authorization string
	Sign          string
	T             string
	Nonce         string
	ContentType   string
}

// Sign builds the authentication headers for a request issued at now.
func Sign(creds Credentials, now time.Time) Headers {
	t := strconv.FormatInt(now.UnixMilli(), 10)
	nonce := uuid.NewString()
	return Headers{
		Authorization: creds.Token,
		Sign:          signature(creds, t, nonce),
		T:             t,
		Nonce:         nonce,
		ContentType:   contentTypeJSON,
	}
}

// Apply sets the header set on req.
func (h Headers) Apply(req *http.Request) {
	req.Header.Set("Authorization", h.Authorization)
	req.Header.Set("sign", h.Sign)
	req.Header.Set("t", h.T)
	req.Header.Set("nonce", h.Nonce)
	req.Header.Set("Content-Type", h.ContentType)
}

// signature is base64(HMAC-SHA256(secret, token+t+nonce)).
func signature(creds Credentials, t, nonce string) string {
	mac := hmac.New(sha256.New, []byte(creds.SecretKey))
	mac.Write([]byte(creds.Token + t + nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
