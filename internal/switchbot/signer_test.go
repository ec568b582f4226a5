package switchbot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSign_Headers(t *testing.T) {
	creds := Credentials{Token: "my-token", SecretKey: "my-secret"}
	now := time.UnixMilli(1700000000123)

	h := Sign(creds, now)

	if h.Authorization != "my-token" {
		t.Errorf("Authorization = %q, want my-token", h.Authorization)
	}
	if h.T != "1700000000123" {
		t.Errorf("T = %q, want 1700000000123", h.T)
	}
	if h.ContentType != "application/json; charset=utf-8" {
		t.Errorf("ContentType = %q", h.ContentType)
	}
	if parts := strings.Split(h.Nonce, "-"); len(parts) != 5 {
		t.Errorf("Nonce = %q, want 8-4-4-4-12 grouping", h.Nonce)
	}
	if _, err := uuid.Parse(h.Nonce); err != nil {
		t.Errorf("Nonce is not a UUID: %v", err)
	}
}

func TestSign_SignatureIsHMACOfTokenTimestampNonce(t *testing.T) {
	creds := Credentials{Token: "test-token", SecretKey: "test-secret"}
	h := Sign(creds, time.Now())

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("test-token" + h.T + h.Nonce))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if h.Sign != want {
		t.Errorf("Sign = %q, want %q", h.Sign, want)
	}

	decoded, err := base64.StdEncoding.DecodeString(h.Sign)
	if err != nil {
		t.Fatalf("Sign is not standard base64: %v", err)
	}
	if len(decoded) != sha256.Size {
		t.Errorf("decoded signature length = %d, want %d", len(decoded), sha256.Size)
	}
}

func TestSign_FreshNoncePerCall(t *testing.T) {
	creds := Credentials{Token: "t", SecretKey: "s"}
	now := time.Now()

	a := Sign(creds, now)
	b := Sign(creds, now)

	if a.Nonce == b.Nonce {
		t.Error("two calls produced the same nonce")
	}
	if a.Sign == b.Sign {
		t.Error("two calls produced the same signature")
	}
}

func TestHeaders_Apply(t *testing.T) {
	h := Sign(Credentials{Token: "tok", SecretKey: "sec"}, time.Now())
	req, err := http.NewRequest(http.MethodGet, "http://example.invalid", http.NoBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	h.Apply(req)

	for key, want := range map[string]string{
		"Authorization": h.Authorization,
		"sign":          h.Sign,
		"t":             h.T,
		"nonce":         h.Nonce,
		"Content-Type":  h.ContentType,
	} {
		if got := req.Header.Get(key); got != want {
			t.Errorf("header %s = %q, want %q", key, got, want)
		}
	}
}

func TestCredentials_StringRedacts(t *testing.T) {
	c := Credentials{Token: "super-token", SecretKey: "super-secret"}
	s := c.String()
	if strings.Contains(s, "super-token") || strings.Contains(s, "super-secret") {
		t.Errorf("String() leaked credentials: %s", s)
	}
}
