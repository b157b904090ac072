package activitypub

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedRequest is the parent of every integrity check failure.
	ErrMalformedRequest = errors.New("malformed request")
	ErrDateSkew         = fmt.Errorf("%w: date outside accepted window", ErrMalformedRequest)
	ErrContentLength    = fmt.Errorf("%w: content-length does not match body", ErrMalformedRequest)
	ErrDigestMismatch   = fmt.Errorf("%w: digest does not match body", ErrMalformedRequest)
)

// DefaultDateSkew is how far a request Date may drift from the local clock.
const DefaultDateSkew = 5 * time.Minute

var digestAlgorithms = map[string]func() hash.Hash{
	"sha-256": sha256.New,
	"sha-512": sha512.New,
}

// CheckIntegrity validates the Date, Content-Length and Digest headers that
// are present against now and body. Absent headers are not checked.
func CheckIntegrity(header http.Header, body []byte, now time.Time, skew time.Duration) error {
	if date := header.Get("Date"); date != "" {
		t, err := http.ParseTime(date)
		if err != nil {
			return fmt.Errorf("%w: unparseable date %q", ErrDateSkew, date)
		}
		if diff := now.Sub(t); diff > skew || diff < -skew {
			return ErrDateSkew
		}
	}

	if length := header.Get("Content-Length"); length != "" {
		n, err := strconv.Atoi(strings.TrimSpace(length))
		if err != nil || n != len(body) {
			return ErrContentLength
		}
	}

	if digest := header.Get("Digest"); digest != "" {
		if err := checkDigest(digest, body); err != nil {
			return err
		}
	}
	return nil
}

// checkDigest verifies every supported entry of a Digest header such as
// "SHA-256=base64,SHA-512=base64". Values may also be hex encoded.
func checkDigest(header string, body []byte) error {
	checked := 0
	for _, entry := range strings.Split(header, ",") {
		algo, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found {
			return fmt.Errorf("%w: invalid entry %q", ErrDigestMismatch, entry)
		}
		newHash, ok := digestAlgorithms[strings.ToLower(algo)]
		if !ok {
			continue
		}

		h := newHash()
		h.Write(body)
		sum := h.Sum(nil)

		if !digestMatches(value, sum) {
			return ErrDigestMismatch
		}
		checked++
	}

	if checked == 0 {
		return fmt.Errorf("%w: no supported algorithm", ErrDigestMismatch)
	}
	return nil
}

func digestMatches(value string, sum []byte) bool {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && bytes.Equal(decoded, sum) {
		return true
	}
	if decoded, err := hex.DecodeString(value); err == nil && bytes.Equal(decoded, sum) {
		return true
	}
	return false
}
