package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"
	"time"
)

// generateTestKeyPair generates an RSA key pair for testing
func generateTestKeyPair() (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, &privateKey.PublicKey, nil
}

// privateKeyToPEM converts private key to PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	keyBytes := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM)
}

// publicKeyToPEM converts public key to PEM string
func publicKeyToPEM(key *rsa.PublicKey) (string, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM), nil
}

func newSignedRequest(t *testing.T, privateKey *rsa.PrivateKey, method, url, keyId string, body []byte) *http.Request {
	t.Helper()

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, url, bytes.NewReader(body))
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := SignRequest(req, privateKey, keyId, body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return req
}

func TestParsePrivateKey(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	parsed, err := ParsePrivateKey(privateKeyToPEM(privateKey))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed private key does not match original")
	}
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey failed: %v", err)
	}
	pemString := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}))

	parsed, err := ParsePrivateKey(pemString)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed private key does not match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePrivateKeyEmptyString(t *testing.T) {
	if _, err := ParsePrivateKey(""); err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestParsePublicKey(t *testing.T) {
	_, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	parsed, err := ParsePublicKey(publicPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}

	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed public key does not match original")
	}
}

func TestParsePublicKeyPKCS1(t *testing.T) {
	_, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	publicPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(publicKey),
	}))

	parsed, err := ParsePublicKey(publicPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed public key does not match original")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePublicKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestSignRequestAddsHeaders(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	body := []byte(`{"type":"Follow"}`)
	req := newSignedRequest(t, privateKey, "POST", "https://example.com/user/bob/inbox", "https://myserver.com/user/alice#main-key", body)

	if !strings.HasPrefix(req.Header.Get("Digest"), "SHA-256=") {
		t.Errorf("Expected SHA-256 digest, got %q", req.Header.Get("Digest"))
	}
	if req.Header.Get("Content-Length") != "17" {
		t.Errorf("Expected Content-Length 17, got %q", req.Header.Get("Content-Length"))
	}
	if req.Header.Get("Host") != "example.com" {
		t.Errorf("Expected Host example.com, got %q", req.Header.Get("Host"))
	}

	sig := req.Header.Get("Signature")
	if !strings.Contains(sig, `keyId="https://myserver.com/user/alice#main-key"`) {
		t.Errorf("Expected keyId in signature, got %q", sig)
	}
	if !strings.Contains(sig, `headers="date host (request-target) content-length digest"`) {
		t.Errorf("Expected signed header list, got %q", sig)
	}
}

func TestSignRequestGetHasNoDigest(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	req := newSignedRequest(t, privateKey, "GET", "https://example.com/user/bob", "https://myserver.com/user/alice#main-key", nil)

	if req.Header.Get("Digest") != "" {
		t.Errorf("Expected no Digest on GET, got %q", req.Header.Get("Digest"))
	}
	if !strings.Contains(req.Header.Get("Signature"), `headers="date host (request-target)"`) {
		t.Errorf("Expected GET header list, got %q", req.Header.Get("Signature"))
	}
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	tests := []struct {
		name   string
		method string
		url    string
		body   []byte
	}{
		{
			name:   "POST with body",
			method: "POST",
			url:    "https://example.com/user/bob/inbox",
			body:   []byte(`{"type":"Create","object":{}}`),
		},
		{
			name:   "GET without body",
			method: "GET",
			url:    "https://example.com/user/alice",
			body:   nil,
		},
		{
			name:   "POST to event inbox",
			method: "POST",
			url:    "https://example.com/event/e1/inbox",
			body:   []byte(`{"type":"Join"}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyId := "https://myserver.com/user/testuser#main-key"
			req := newSignedRequest(t, privateKey, tt.method, tt.url, keyId, tt.body)

			got, err := VerifyRequest(req, publicPEM)
			if err != nil {
				t.Fatalf("VerifyRequest failed: %v", err)
			}

			if got != keyId {
				t.Errorf("Expected key id '%s', got '%s'", keyId, got)
			}
			if KeyOwner(got) != "https://myserver.com/user/testuser" {
				t.Errorf("Expected key owner, got '%s'", KeyOwner(got))
			}
		})
	}
}

func TestVerifyRequestInvalidSignature(t *testing.T) {
	privateKey1, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair 1: %v", err)
	}
	_, publicKey2, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair 2: %v", err)
	}
	publicPEM2, err := publicKeyToPEM(publicKey2)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	req := newSignedRequest(t, privateKey1, "POST", "https://example.com/inbox", "https://myserver.com/user/alice#main-key", []byte(`{"type":"Create"}`))

	if _, err := VerifyRequest(req, publicPEM2); err == nil {
		t.Error("Expected verification to fail with wrong public key")
	}
}

func TestVerifyRequestTamperedHeader(t *testing.T) {
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	publicPEM, _ := publicKeyToPEM(publicKey)

	req := newSignedRequest(t, privateKey, "POST", "https://example.com/inbox", "https://myserver.com/user/alice#main-key", []byte(`{"type":"Create"}`))
	req.Header.Set("Content-Length", "999")

	if _, err := VerifyRequest(req, publicPEM); err == nil {
		t.Error("Expected verification to fail after header was changed")
	}
}

func TestVerifyRequestUnsigned(t *testing.T) {
	_, publicKey, _ := generateTestKeyPair()
	publicPEM, _ := publicKeyToPEM(publicKey)

	req, _ := http.NewRequest("POST", "https://example.com/inbox", nil)
	if _, err := VerifyRequest(req, publicPEM); err == nil {
		t.Error("Expected error for unsigned request")
	}
	if _, err := SignatureKeyID(req); err == nil {
		t.Error("Expected error reading key id of unsigned request")
	}
}

func TestVerifyRequestInvalidPEM(t *testing.T) {
	privateKey, _, _ := generateTestKeyPair()
	req := newSignedRequest(t, privateKey, "GET", "https://example.com/user/alice", "https://myserver.com/user/alice#main-key", nil)

	if _, err := VerifyRequest(req, "invalid PEM"); err == nil {
		t.Error("Expected error with invalid PEM")
	}
}

func TestKeyOwnerWithoutFragment(t *testing.T) {
	if got := KeyOwner("https://myserver.com/user/alice"); got != "https://myserver.com/user/alice" {
		t.Errorf("Expected key id unchanged, got %s", got)
	}
}
