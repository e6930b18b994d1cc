package model

import (
	"errors"
	"strings"
)

// Provider identifies the third party that sent an inbound webhook.
type Provider string

const (
	ProviderStripe  Provider = "stripe"
	ProviderGitHub  Provider = "github"
	ProviderGeneric Provider = "generic"
)

var ErrUnknownProvider = errors.New("unknown provider")

func (p Provider) String() string { return string(p) }

func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderGitHub || p == ProviderGeneric
}

// ParseProvider normalizes a path segment into a Provider.
// The descriptive aliases used in older integration docs are accepted too.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stripe", "stripe-like":
		return ProviderStripe, nil
	case "github", "git-host-like":
		return ProviderGitHub, nil
	case "generic":
		return ProviderGeneric, nil
	default:
		return "", ErrUnknownProvider
	}
}
