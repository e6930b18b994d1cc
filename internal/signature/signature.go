// Package signature verifies inbound provider webhooks and signs outbound
// deliveries. All schemes are HMAC-SHA256 over the raw request bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/model"
)

const (
	HeaderStripe     = "Stripe-Signature"
	HeaderGitHub     = "X-Hub-Signature-256"
	HeaderGeneric    = "X-Webhook-Signature"
	HeaderGenericAlt = "X-Signature"

	prefixSHA256 = "sha256="
)

// Verifier checks inbound signatures with per-provider shared secrets.
// A provider without a secret never verifies.
type Verifier struct {
	secrets         map[model.Provider]string
	stripeTolerance time.Duration
	now             func() time.Time
}

type Option func(*Verifier)

// WithStripeTolerance rejects Stripe signatures whose timestamp is further
// than d from now. Zero disables the check.
func WithStripeTolerance(d time.Duration) Option {
	return func(v *Verifier) { v.stripeTolerance = d }
}

// WithClock overrides the time source used for the Stripe tolerance check.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(secrets map[model.Provider]string, opts ...Option) *Verifier {
	v := &Verifier{
		secrets: make(map[model.Provider]string, len(secrets)),
		now:     time.Now,
	}
	for p, s := range secrets {
		v.secrets[p] = s
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// NewVerifierFromConfig builds a verifier from the webhooks config section.
func NewVerifierFromConfig(cfg config.WebhooksConfig) *Verifier {
	return NewVerifier(map[model.Provider]string{
		model.ProviderStripe:  cfg.Secrets.Stripe,
		model.ProviderGitHub:  cfg.Secrets.GitHub,
		model.ProviderGeneric: cfg.Secrets.Generic,
	}, WithStripeTolerance(cfg.StripeTolerance))
}

// Configured reports whether a secret is set for p.
func (v *Verifier) Configured(p model.Provider) bool {
	return v.secrets[p] != ""
}

// Verify checks rawBody against the provider's signature header. rawBody must
// be the exact bytes received; re-serialized JSON will not match.
func (v *Verifier) Verify(p model.Provider, rawBody []byte, headers http.Header) bool {
	secret := v.secrets[p]
	if secret == "" {
		return false
	}

	switch p {
	case model.ProviderStripe:
		return v.verifyStripe(secret, rawBody, headers.Get(HeaderStripe))
	case model.ProviderGitHub:
		return verifyPrefixed(secret, rawBody, headers.Get(HeaderGitHub), true)
	case model.ProviderGeneric:
		sig := headers.Get(HeaderGeneric)
		if sig == "" {
			sig = headers.Get(HeaderGenericAlt)
		}
		return verifyPrefixed(secret, rawBody, sig, false)
	default:
		return false
	}
}

// verifyStripe checks "t=<ts>,v1=<hex>[,v1=<hex>...]" against HMAC("{t}.{body}").
func (v *Verifier) verifyStripe(secret string, rawBody []byte, header string) bool {
	if header == "" {
		return false
	}

	var (
		ts         string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = val
		case "v1":
			signatures = append(signatures, val)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return false
	}

	if v.stripeTolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return false
		}
		age := v.now().Sub(time.Unix(sec, 0))
		if age < 0 {
			age = -age
		}
		if age > v.stripeTolerance {
			return false
		}
	}

	expected := stripeMAC(secret, ts, rawBody)
	for _, sig := range signatures {
		if equalHex(expected, sig) {
			return true
		}
	}
	return false
}

// verifyPrefixed checks a hex HMAC of the raw body, with a "sha256=" prefix
// that is mandatory or optional.
func verifyPrefixed(secret string, rawBody []byte, header string, prefixRequired bool) bool {
	if header == "" {
		return false
	}
	sig, hadPrefix := strings.CutPrefix(strings.TrimSpace(header), prefixSHA256)
	if prefixRequired && !hadPrefix {
		return false
	}
	return equalHex(mac(secret, rawBody), sig)
}

// equalHex decodes provided and compares it in constant time. A length
// mismatch returns false before any comparison.
func equalHex(expected []byte, provided string) bool {
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	if len(got) != len(expected) {
		return false
	}
	return hmac.Equal(expected, got)
}

func mac(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

func stripeMAC(secret, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the lowercase hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

// Header returns the "sha256=<hex>" value sent in X-Signature and
// X-Hub-Signature-256 headers.
func Header(secret string, body []byte) string {
	return prefixSHA256 + Sign(secret, body)
}

// StripeHeader builds a Stripe-Signature header value for ts.
func StripeHeader(secret string, ts int64, body []byte) string {
	t := strconv.FormatInt(ts, 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(stripeMAC(secret, t, body))
}
