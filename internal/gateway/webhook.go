package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"ShopCheckout/internal/models"
)

// SignatureHeader carries the gateway's webhook signature:
// "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<payload>'>".
const SignatureHeader = "Gateway-Signature"

// signatureTolerance bounds how old a signed timestamp may be; redeliveries
// are re-signed by the gateway, so anything older is a replay.
const signatureTolerance = 5 * time.Minute

var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Event is a decoded gateway webhook notification. Delivery is at-least-once
// and possibly out of order; de-duplication happens at the ledger, not here.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object Session `json:"object"`
	} `json:"data"`

	// Unverified is set when no webhook secret is configured and the payload
	// was accepted without a signature check.
	Unverified bool `json:"-"`
}

// OrderID returns the business order id the event refers to, if any.
func (e *Event) OrderID() string {
	if e.Data.Object.ClientReferenceID != "" {
		return e.Data.Object.ClientReferenceID
	}
	return e.Data.Object.Metadata["order_id"]
}

// Outcome maps the event type to a settlement outcome. The second return is
// false for event types this pipeline ignores.
func (e *Event) Outcome() (models.Outcome, bool) {
	switch e.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return models.OutcomeSucceeded, true
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		return models.OutcomeFailed, true
	default:
		return "", false
	}
}

// DecodeEvent verifies the signature header against the raw payload and
// parses the event. With no webhook secret configured the payload is still
// parsed but the event is flagged Unverified; callers decide whether to
// accept it.
func (c *Client) DecodeEvent(payload []byte, sigHeader string) (*Event, error) {
	return decodeEvent(payload, sigHeader, c.webhookSecret, time.Now())
}

func decodeEvent(payload []byte, sigHeader, secret string, now time.Time) (*Event, error) {
	var ev Event
	if secret == "" {
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		ev.Unverified = true
		return &ev, nil
	}

	ts, sigs, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}
	if now.Sub(time.Unix(ts, 0)) > signatureTolerance {
		return nil, ErrSignatureInvalid
	}

	expected := computeSignature(secret, ts, payload)
	ok := false
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, ErrSignatureInvalid
	}

	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var ts int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, ErrSignatureInvalid
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return 0, nil, ErrSignatureInvalid
	}
	return ts, sigs, nil
}

func computeSignature(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
