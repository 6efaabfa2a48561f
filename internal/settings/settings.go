// Package settings is a SQLite-backed key/value store for operator
// configuration, with at-rest encryption of secret values. Secrets are
// sealed with XChaCha20-Poly1305 using a locally generated key file;
// when the key is unavailable the store degrades to plaintext with a
// warning rather than failing.
package settings

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/borealis-media/borealis/internal/database"
)

const encPrefix = "enc:"

// Keys holding secrets that must never be stored in the clear.
var secretKeys = map[string]bool{
	"jf_api_key": true,
}

type Service struct {
	db      *database.DB
	keyPath string
}

func New(db *database.DB, keyPath string) *Service {
	return &Service{db: db, keyPath: keyPath}
}

// Get returns all settings with secret values decrypted. Values that
// fail to decrypt come back empty.
func (s *Service) Get(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		out[key] = s.decrypt(value)
	}
	return out, rows.Err()
}

// Update upserts the supplied settings, encrypting secret keys, and
// returns the full decrypted settings map.
func (s *Service) Update(ctx context.Context, items map[string]string) (map[string]string, error) {
	if len(items) > 0 {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("update settings: %w", err)
		}
		defer tx.Rollback()

		for key, value := range items {
			if secretKeys[key] && !strings.HasPrefix(value, encPrefix) {
				value = s.encrypt(value)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
			if err != nil {
				return nil, fmt.Errorf("update settings: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("update settings: %w", err)
		}
	}
	return s.Get(ctx)
}

// JellyfinEndpoint builds the remote base URL and API token from the
// stored jf_host, jf_port and jf_api_key settings. The host may carry
// an explicit http/https scheme; http is assumed otherwise.
func (s *Service) JellyfinEndpoint(ctx context.Context) (string, string, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return "", "", err
	}

	host := strings.TrimSpace(cfg["jf_host"])
	port := strings.TrimSpace(cfg["jf_port"])
	token := strings.TrimSpace(cfg["jf_api_key"])

	scheme := "http"
	if strings.HasPrefix(host, "https://") {
		scheme = "https"
		host = strings.TrimPrefix(host, "https://")
	} else {
		host = strings.TrimPrefix(host, "http://")
	}
	host = strings.TrimSuffix(host, "/")

	if host == "" || port == "" || token == "" {
		return "", "", fmt.Errorf("jellyfin connection is not configured")
	}
	if _, err := url.Parse(scheme + "://" + host + ":" + port); err != nil {
		return "", "", fmt.Errorf("invalid jellyfin host/port: %w", err)
	}

	return fmt.Sprintf("%s://%s:%s", scheme, host, port), token, nil
}

func (s *Service) encrypt(plain string) string {
	aead := s.aead()
	if aead == nil {
		return plain
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		log.Warn().Err(err).Msg("Encrypt failed; storing plaintext")
		return plain
	}

	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed)
}

func (s *Service) decrypt(value string) string {
	if !strings.HasPrefix(value, encPrefix) {
		return value
	}

	aead := s.aead()
	if aead == nil {
		log.Warn().Msg("Encrypted secret present but key unavailable")
		return ""
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil || len(raw) < aead.NonceSize() {
		log.Warn().Msg("Secret decryption failed: malformed value")
		return ""
	}

	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		log.Warn().Msg("Secret decryption failed: invalid ciphertext")
		return ""
	}
	return string(plain)
}

func (s *Service) aead() cipher.AEAD {
	key, err := s.ensureKey()
	if err != nil {
		log.Warn().Err(err).Msg("Encryption key unavailable; secrets left plaintext")
		return nil
	}
	c, err := chacha20poly1305.NewX(key)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid encryption key; secrets left plaintext")
		return nil
	}
	return c
}

func (s *Service) ensureKey() ([]byte, error) {
	if key, err := os.ReadFile(s.keyPath); err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s has wrong size", s.keyPath)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.keyPath, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
