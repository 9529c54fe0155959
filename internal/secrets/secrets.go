// Package secrets resolves the catalog bearer token at stage start.
package secrets

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/config"
)

// TokenSource yields the bearer token for the catalog API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a token supplied directly through configuration.
type Static string

func (s Static) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", eris.Wrap(config.ErrConfiguration, "secrets: empty token")
	}
	return tok, nil
}

// File reads a JSON secret document holding "token" or "bearer_token".
type File struct {
	Path string
}

type secretDoc struct {
	Token       string `json:"token"`
	BearerToken string `json:"bearer_token"`
}

func (f File) Token(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", eris.Wrapf(config.ErrConfiguration, "secrets: read %s: %v", f.Path, err)
	}
	var doc secretDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", eris.Wrapf(config.ErrConfiguration, "secrets: parse %s: %v", f.Path, err)
	}
	tok := strings.TrimSpace(doc.Token)
	if tok == "" {
		tok = strings.TrimSpace(doc.BearerToken)
	}
	if tok == "" {
		return "", eris.Wrapf(config.ErrConfiguration, "secrets: %s has no token", f.Path)
	}
	return tok, nil
}

// FromConfig picks the token source for the catalog section. An inline
// token wins over a secret file.
func FromConfig(cfg config.CatalogConfig) TokenSource {
	if cfg.Token != "" {
		return Static(cfg.Token)
	}
	return File{Path: cfg.SecretFile}
}
