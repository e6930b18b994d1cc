package inbound

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/webhook-gateway/internal/model"
)

const (
	headerGitHubEvent    = "X-GitHub-Event"
	headerGitHubDelivery = "X-GitHub-Delivery"
	headerEventType      = "X-Event-Type"
)

// lookup walks nested JSON objects. It returns nil when any segment is missing
// or is not an object.
func lookup(obj map[string]any, path ...string) any {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func str(obj map[string]any, path ...string) string {
	s, _ := lookup(obj, path...).(string)
	return s
}

func eventType(p model.Provider, obj map[string]any, h http.Header) string {
	switch p {
	case model.ProviderStripe:
		return str(obj, "type")
	case model.ProviderGitHub:
		return h.Get(headerGitHubEvent)
	case model.ProviderGeneric:
		if t := str(obj, "type"); t != "" {
			return t
		}
		if t := str(obj, "event"); t != "" {
			return t
		}
		return h.Get(headerEventType)
	default:
		return ""
	}
}

func externalID(p model.Provider, obj map[string]any, h http.Header) string {
	switch p {
	case model.ProviderGitHub:
		return h.Get(headerGitHubDelivery)
	default:
		return str(obj, "id")
	}
}

var skipHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
}

// captureHeaders flattens request headers for the log row. Credentials sent
// by misconfigured senders are not stored.
func captureHeaders(h http.Header) model.JSONMap {
	out := make(model.JSONMap, len(h))
	for k, vs := range h {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
