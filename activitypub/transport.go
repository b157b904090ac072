package activitypub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/rendezvous/domain"
	"go.uber.org/zap"
)

const (
	ContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	acceptTypes = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	userAgent   = "rendezvous/1.0 ActivityPub"

	// remote documents larger than this are not read
	maxResponseSize = 1 << 20
)

// Transport performs the HTTP exchanges with remote servers. Requests made on
// behalf of a local actor are signed with that actor's key.
type Transport struct {
	client *http.Client
	log    *zap.Logger
}

// NewTransport wraps client; a nil client gets a 30 second timeout.
func NewTransport(client *http.Client, log *zap.Logger) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Transport{client: client, log: log}
}

// Get fetches a remote document. Any non-2xx answer is an error.
func (t *Transport) Get(ctx context.Context, uri string, signer *domain.Actor) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", acceptTypes)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := t.sign(req, signer, nil); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// Post delivers body to a remote inbox. Any non-2xx answer is an error.
func (t *Transport) Post(ctx context.Context, uri string, body []byte, signer *domain.Actor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", acceptTypes)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if signer != nil && signer.PrivateKeyPem != "" {
		if err := t.sign(req, signer, body); err != nil {
			return err
		}
	} else {
		sum := sha256.Sum256(body)
		req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}

func (t *Transport) sign(req *http.Request, signer *domain.Actor, body []byte) error {
	if signer == nil || signer.PrivateKeyPem == "" {
		return nil
	}

	privateKey, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	if err := SignRequest(req, privateKey, signer.KeyID(), body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}
