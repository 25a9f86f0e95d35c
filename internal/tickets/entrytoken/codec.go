// Package entrytoken signs and verifies the payload rendered as a QR code
// on a ticket and scanned at the venue gate.
//
// A token proves that the holder was able to obtain a signed payload for a
// ticket id recently. It says nothing about who owns the ticket now; the
// caller must look the ticket up before admitting anyone.
package entrytoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gowebpki/jcs"

	"ms-ticket-transfer/internal/clock"
)

// Version is the payload schema version written into every token.
const Version = 1

// MaxFutureSkew is how far in the future a token may be stamped and still
// verify, to absorb clock skew between service instances.
const MaxFutureSkew = 5 * time.Minute

var (
	ErrInvalidToken = errors.New("entrytoken: invalid token")
	ErrExpiredToken = errors.New("entrytoken: token expired")
	ErrEmptySecret  = errors.New("entrytoken: signing secret is empty")
)

var encoding = base64.RawURLEncoding.Strict()

type payload struct {
	ID       string `json:"id"`
	IssuedAt int64  `json:"iat"`
	Version  int    `json:"v"`
}

// Claims is what a verified token asserts.
type Claims struct {
	TicketID string
	IssuedAt time.Time
	Version  int
}

type Codec struct {
	secret []byte
	window time.Duration
	clock  clock.Clock
}

func NewCodec(secret string, window time.Duration, clk clock.Clock) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if window <= 0 {
		return nil, fmt.Errorf("entrytoken: freshness window must be positive, got %s", window)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Codec{secret: []byte(secret), window: window, clock: clk}, nil
}

func (c *Codec) Window() time.Duration {
	return c.window
}

// Issue returns a fresh token for ticketID. It keeps no state, so callers
// may re-issue as often as they like.
func (c *Codec) Issue(ticketID string) (string, error) {
	if ticketID == "" {
		return "", errors.New("entrytoken: ticket id is required")
	}
	// JSON would swap invalid bytes for U+FFFD and sign a different id.
	if !utf8.ValidString(ticketID) {
		return "", errors.New("entrytoken: ticket id is not valid UTF-8")
	}

	raw, err := json.Marshal(payload{
		ID:       ticketID,
		IssuedAt: c.clock.Now().UnixMilli(),
		Version:  Version,
	})
	if err != nil {
		return "", fmt.Errorf("entrytoken: encoding payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("entrytoken: canonicalizing payload: %w", err)
	}

	// Built by hand so the payload bytes inside the bundle are exactly the
	// bytes that were signed. json.Marshal would re-escape them.
	bundle := make([]byte, 0, len(canonical)+96)
	bundle = append(bundle, `{"payload":`...)
	bundle = append(bundle, canonical...)
	bundle = append(bundle, `,"sig":"`...)
	bundle = append(bundle, encoding.EncodeToString(c.sign(canonical))...)
	bundle = append(bundle, `"}`...)

	return encoding.EncodeToString(bundle), nil
}

// Verify checks the signature first and the freshness window second. Every
// decoding problem collapses into ErrInvalidToken.
func (c *Codec) Verify(token string) (*Claims, error) {
	canonical, sig, err := decodeBundle(strings.TrimSpace(token))
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !hmac.Equal(sig, c.sign(canonical)) {
		return nil, ErrInvalidToken
	}

	var p payload
	dec := json.NewDecoder(strings.NewReader(string(canonical)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, ErrInvalidToken
	}
	if p.Version != Version || p.ID == "" || p.IssuedAt <= 0 {
		return nil, ErrInvalidToken
	}

	issuedAt := time.UnixMilli(p.IssuedAt).UTC()
	now := c.clock.Now()
	if issuedAt.Sub(now) > MaxFutureSkew {
		return nil, ErrInvalidToken
	}
	if now.Sub(issuedAt) > c.window {
		return nil, ErrExpiredToken
	}

	return &Claims{TicketID: p.ID, IssuedAt: issuedAt, Version: p.Version}, nil
}

func (c *Codec) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// decodeBundle insists on exactly the two keys Issue writes. encoding/json
// matches struct fields case-insensitively, so a map keeps "Sig" from
// standing in for "sig".
func decodeBundle(token string) ([]byte, []byte, error) {
	if token == "" {
		return nil, nil, ErrInvalidToken
	}
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return nil, nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, err
	}
	canonical, okPayload := fields["payload"]
	sigField, okSig := fields["sig"]
	if len(fields) != 2 || !okPayload || !okSig {
		return nil, nil, ErrInvalidToken
	}

	var sigText string
	if err := json.Unmarshal(sigField, &sigText); err != nil {
		return nil, nil, err
	}
	sig, err := encoding.DecodeString(sigText)
	if err != nil {
		return nil, nil, err
	}
	return canonical, sig, nil
}
