package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// ProviderRow is one org's LLM provider credential. The API key is
// plaintext in memory and AES-GCM encrypted at rest.
type ProviderRow struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // openai|anthropic
	Endpoint  string    `json:"endpoint"`
	APIKey    string    `json:"api_key"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// encryptKey returns the 32-byte AES key from LEADPILOT_ENCRYPT_KEY.
func encryptKey() ([]byte, error) {
	keyHex := os.Getenv("LEADPILOT_ENCRYPT_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("LEADPILOT_ENCRYPT_KEY not set")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode LEADPILOT_ENCRYPT_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("LEADPILOT_ENCRYPT_KEY must be 64 hex chars (32 bytes), got %d bytes", len(key))
	}
	return key, nil
}

// encrypt uses AES-256-GCM to encrypt plaintext.
func encrypt(plaintext string) ([]byte, error) {
	key, err := encryptKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// decrypt uses AES-256-GCM to decrypt ciphertext.
func decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	key, err := encryptKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SaveProvider inserts a provider credential with an encrypted API key.
func (s *Store) SaveProvider(ctx context.Context, p *ProviderRow) error {
	encKey, err := encrypt(p.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api_key: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO providers (id, org_id, name, type, endpoint, api_key_enc, is_default)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.OrgID, p.Name, p.Type, p.Endpoint, encKey, p.IsDefault,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

// ListProviders returns an org's provider credentials with decrypted keys.
func (s *Store) ListProviders(ctx context.Context, orgID string) ([]*ProviderRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, org_id, name, type, COALESCE(endpoint,''), api_key_enc, is_default,
		       created_at, updated_at
		FROM providers WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var providers []*ProviderRow
	for rows.Next() {
		var p ProviderRow
		var encKey []byte
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Type, &p.Endpoint, &encKey,
			&p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		key, err := decrypt(encKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt provider %s: %w", p.ID, err)
		}
		p.APIKey = key
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

// DeleteProvider removes a provider credential.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return nil
}

// SetDefaultProvider makes one credential the org's default.
func (s *Store) SetDefaultProvider(ctx context.Context, orgID, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE providers SET is_default = false WHERE org_id = $1 AND is_default`, orgID); err != nil {
		return fmt.Errorf("clear defaults: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE providers SET is_default = true, updated_at = NOW() WHERE id = $1 AND org_id = $2`,
		id, orgID); err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	return tx.Commit(ctx)
}
