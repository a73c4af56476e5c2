package policy

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore persists keyring records so the API replicas and the worker
// share one rotation state.
type KeyStore interface {
	Load(ctx context.Context) ([]KeyRecord, error)
	Save(ctx context.Context, keys []KeyRecord) error
}

const keyringKey = "policy:keyring"

// RedisKeyStore stores the keyring as a JSON blob in redis.
type RedisKeyStore struct {
	client *redis.Client
}

// NewRedisKeyStore wraps the given client.
func NewRedisKeyStore(client *redis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

type storedKey struct {
	ID        string    `json:"id"`
	Public    string    `json:"public"`
	Private   string    `json:"private,omitempty"`
	Status    KeyStatus `json:"status"`
	AddedAt   time.Time `json:"added_at"`
	RotatedAt time.Time `json:"rotated_at,omitempty"`
}

// Load reads and decodes all persisted records. An absent key yields an
// empty ring, not an error.
func (s *RedisKeyStore) Load(ctx context.Context) ([]KeyRecord, error) {
	payload, err := s.client.Get(ctx, keyringKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("policy: load keyring: %w", err)
	}
	var stored []storedKey
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("policy: decode keyring: %w", err)
	}
	keys := make([]KeyRecord, 0, len(stored))
	for _, sk := range stored {
		public, err := base64.RawURLEncoding.DecodeString(sk.Public)
		if err != nil || len(public) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("policy: corrupt public key for %s", sk.ID)
		}
		record := KeyRecord{
			ID:        sk.ID,
			Public:    ed25519.PublicKey(public),
			Status:    sk.Status,
			AddedAt:   sk.AddedAt,
			RotatedAt: sk.RotatedAt,
		}
		if sk.Private != "" {
			private, err := base64.RawURLEncoding.DecodeString(sk.Private)
			if err != nil || len(private) != ed25519.PrivateKeySize {
				return nil, fmt.Errorf("policy: corrupt private key for %s", sk.ID)
			}
			record.Private = ed25519.PrivateKey(private)
		}
		keys = append(keys, record)
	}
	return keys, nil
}

// Save encodes and stores the full record list.
func (s *RedisKeyStore) Save(ctx context.Context, keys []KeyRecord) error {
	stored := make([]storedKey, len(keys))
	for i, key := range keys {
		sk := storedKey{
			ID:        key.ID,
			Public:    base64.RawURLEncoding.EncodeToString(key.Public),
			Status:    key.Status,
			AddedAt:   key.AddedAt,
			RotatedAt: key.RotatedAt,
		}
		if key.Private != nil {
			sk.Private = base64.RawURLEncoding.EncodeToString(key.Private)
		}
		stored[i] = sk
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("policy: encode keyring: %w", err)
	}
	if err := s.client.Set(ctx, keyringKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("policy: save keyring: %w", err)
	}
	return nil
}
