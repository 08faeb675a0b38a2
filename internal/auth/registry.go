// Package auth maps bearer tokens to caller identities.
//
// Tokens come from a single static token (identity "default") and/or a YAML
// token file that is reloaded when it changes on disk.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultIdentity is the identity attached to the static AUTH_TOKEN.
const DefaultIdentity = "default"

var ErrEmptyToken = errors.New("empty token")

// Identity is the caller a token resolves to.
type Identity struct {
	Name string `json:"name"`
}

// TokenFile is the on-disk format of AUTH_TOKENS_FILE.
//
//	tokens:
//	  - token: sk_transcribe_abc
//	    identity: mobile-app
type TokenFile struct {
	Tokens []TokenEntry `yaml:"tokens"`
}

type TokenEntry struct {
	Token    string `yaml:"token"`
	Identity string `yaml:"identity"`
}

// Registry holds the current token set. Lookups are safe for concurrent use
// with Reload.
type Registry struct {
	static string
	path   string
	log    zerolog.Logger

	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewRegistry builds a registry from a static token and an optional token
// file. The file, when given, must parse; later reload failures keep the
// previous token set.
func NewRegistry(staticToken, path string, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		static: staticToken,
		path:   path,
		log:    log.With().Str("component", "auth").Logger(),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the token map from the static token and the token file.
func (r *Registry) Reload() error {
	tokens := make(map[string]Identity)
	if r.static != "" {
		tokens[r.static] = Identity{Name: DefaultIdentity}
	}

	if r.path != "" {
		entries, err := ReadTokenFile(r.path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			tokens[e.Token] = Identity{Name: e.Identity}
		}
	}

	if len(tokens) == 0 {
		return errors.New("auth: no tokens configured")
	}

	r.mu.Lock()
	r.tokens = tokens
	r.mu.Unlock()

	r.log.Info().Int("tokens", len(tokens)).Msg("token registry loaded")
	return nil
}

// Lookup resolves a token to its identity. Every known token is compared in
// constant time so the response time does not leak which prefix matched.
func (r *Registry) Lookup(token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found Identity
		ok    bool
	)
	for known, id := range r.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(known)) == 1 {
			found, ok = id, true
		}
	}
	return found, ok
}

// Len returns the number of loaded tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// ReadTokenFile parses a YAML token file. Entries without an identity get the
// default identity; empty tokens are rejected.
func ReadTokenFile(path string) ([]TokenEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var tf TokenFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}

	for i := range tf.Tokens {
		if tf.Tokens[i].Token == "" {
			return nil, fmt.Errorf("token file %s: entry %d: %w", path, i, ErrEmptyToken)
		}
		if tf.Tokens[i].Identity == "" {
			tf.Tokens[i].Identity = DefaultIdentity
		}
	}
	return tf.Tokens, nil
}
