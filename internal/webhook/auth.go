// Package webhook authenticates and routes provider webhook deliveries.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-PCO-Webhooks-Authenticity"

// OrgSecret is one candidate shared secret for an org.
type OrgSecret struct {
	OrgID  string
	Secret string
}

// Authenticate returns the org whose secret signed body. Every candidate is
// compared, so the time taken does not depend on which one matched.
func Authenticate(headers http.Header, body []byte, secrets []OrgSecret) (string, error) {
	sig, err := hex.DecodeString(strings.TrimSpace(headerValue(headers, SignatureHeader)))
	if err != nil || len(sig) == 0 {
		return "", apperrors.ErrWebhookAuth()
	}

	matched := -1
	for i, s := range secrets {
		if s.Secret == "" {
			continue
		}
		if hmac.Equal(sig, Sign(s.Secret, body)) && matched < 0 {
			matched = i
		}
	}
	if matched < 0 {
		return "", apperrors.ErrWebhookAuth()
	}
	return secrets[matched].OrgID, nil
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign hex encoded, the form the provider sends.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign(secret, body))
}

// Candidates flattens per-org secret lists into a deduplicated candidate
// list ordered by org.
func Candidates(sources ...map[string][]string) []OrgSecret {
	seen := make(map[OrgSecret]struct{})
	var out []OrgSecret
	for _, src := range sources {
		for org, secrets := range src {
			for _, s := range secrets {
				c := OrgSecret{OrgID: org, Secret: s}
				if s == "" {
					continue
				}
				if _, ok := seen[c]; ok {
					continue
				}
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrgID != out[j].OrgID {
			return out[i].OrgID < out[j].OrgID
		}
		return out[i].Secret < out[j].Secret
	})
	return out
}

// SecretStore reads the authenticity secrets of stored subscriptions.
type SecretStore interface {
	WebhookSecrets(ctx context.Context) (map[string][]string, error)
}

// Secrets merges configured per-org secrets with stored ones.
type Secrets struct {
	static map[string][]string
	store  SecretStore
}

// NewSecrets creates a Secrets. store may be nil.
func NewSecrets(static map[string][]string, store SecretStore) *Secrets {
	return &Secrets{static: static, store: store}
}

// Candidates returns every secret a delivery may be signed with.
func (s *Secrets) Candidates(ctx context.Context) ([]OrgSecret, error) {
	if s.store == nil {
		return Candidates(s.static), nil
	}
	stored, err := s.store.WebhookSecrets(ctx)
	if err != nil {
		return nil, err
	}
	return Candidates(s.static, stored), nil
}

// headerValue looks name up canonically, then case-insensitively for
// headers that were rebuilt from a plain map.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for k, vs := range h {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
