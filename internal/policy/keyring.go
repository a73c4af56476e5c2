package policy

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/armada-fleet/armada/internal/clock"
)

// KeyStatus tracks a key's place in the rotation lifecycle. Transitions
// are one-way: ACTIVE -> ROTATING_OUT -> REVOKED.
type KeyStatus string

const (
	StatusActive      KeyStatus = "ACTIVE"
	StatusRotatingOut KeyStatus = "ROTATING_OUT"
	StatusRevoked     KeyStatus = "REVOKED"
)

// KeyRecord is one keypair in the ring. Private is nil on verify-only
// records imported from peers.
type KeyRecord struct {
	ID        string
	Public    ed25519.PublicKey
	Private   ed25519.PrivateKey
	Status    KeyStatus
	AddedAt   time.Time
	RotatedAt time.Time
}

// KeyRing holds the ordered, append-only list of signing keys. Reads are
// frequent (every sign/verify); rotation writes are rare administrative
// events and may briefly block under the mutex. With a KeyStore attached
// the ring is shared between the API and the worker through redis.
type KeyRing struct {
	mu    sync.RWMutex
	keys  []KeyRecord
	clock clock.Clock
	store KeyStore
}

// NewKeyRing constructs an empty in-memory ring.
func NewKeyRing(clk clock.Clock) *KeyRing {
	return &KeyRing{clock: clk}
}

// NewPersistentKeyRing constructs a ring backed by store, loading any
// previously persisted records.
func NewPersistentKeyRing(ctx context.Context, clk clock.Clock, store KeyStore) (*KeyRing, error) {
	keys, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &KeyRing{clock: clk, keys: keys, store: store}, nil
}

// Reload replaces the in-memory records from the store. The worker calls
// this before pruning so it acts on the API's latest rotation state.
func (r *KeyRing) Reload(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	keys, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.keys = keys
	r.mu.Unlock()
	return nil
}

func (r *KeyRing) persistLocked(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	snapshot := make([]KeyRecord, len(r.keys))
	copy(snapshot, r.keys)
	return r.store.Save(ctx, snapshot)
}

// Generate creates a fresh Ed25519 keypair, marks it ACTIVE and demotes any
// previously ACTIVE key to ROTATING_OUT so documents signed moments before
// the rotation still verify.
func (r *KeyRing) Generate(ctx context.Context) (KeyRecord, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("policy: generate key: %w", err)
	}
	record := KeyRecord{
		ID:      uuid.NewString(),
		Public:  public,
		Private: private,
		Status:  StatusActive,
		AddedAt: r.clock.Now(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.demoteActiveLocked(record.AddedAt)
	r.keys = append(r.keys, record)
	if err := r.persistLocked(ctx); err != nil {
		return KeyRecord{}, err
	}
	return record, nil
}

// Add appends an externally provisioned record. An ACTIVE record with a
// private key demotes previously ACTIVE keys, same as Generate.
func (r *KeyRing) Add(ctx context.Context, record KeyRecord) error {
	if record.ID == "" {
		return fmt.Errorf("policy: key id required")
	}
	if len(record.Public) != ed25519.PublicKeySize {
		return fmt.Errorf("policy: invalid public key for %s", record.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.keys {
		if existing.ID == record.ID {
			return fmt.Errorf("policy: duplicate key id %s", record.ID)
		}
	}
	if record.AddedAt.IsZero() {
		record.AddedAt = r.clock.Now()
	}
	if record.Status == StatusActive && record.Private != nil {
		r.demoteActiveLocked(record.AddedAt)
	}
	r.keys = append(r.keys, record)
	return r.persistLocked(ctx)
}

func (r *KeyRing) demoteActiveLocked(at time.Time) {
	for i := range r.keys {
		if r.keys[i].Status == StatusActive {
			r.keys[i].Status = StatusRotatingOut
			r.keys[i].RotatedAt = at
		}
	}
}

// SigningKey returns the single ACTIVE record holding a private key.
func (r *KeyRing) SigningKey() (KeyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.keys) - 1; i >= 0; i-- {
		if r.keys[i].Status == StatusActive && r.keys[i].Private != nil {
			return r.keys[i], nil
		}
	}
	return KeyRecord{}, ErrNoSigningKey
}

// VerificationKeys returns ACTIVE and ROTATING_OUT records, most recently
// added first. REVOKED keys never verify.
func (r *KeyRing) VerificationKeys() []KeyRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]KeyRecord, 0, len(r.keys))
	for i := len(r.keys) - 1; i >= 0; i-- {
		if r.keys[i].Status == StatusActive || r.keys[i].Status == StatusRotatingOut {
			keys = append(keys, r.keys[i])
		}
	}
	return keys
}

// Revoke marks the key REVOKED. Revocation is terminal.
func (r *KeyRing) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.keys[i].ID == id {
			r.keys[i].Status = StatusRevoked
			return r.persistLocked(ctx)
		}
	}
	return fmt.Errorf("policy: unknown key id %s", id)
}

// PruneRotated revokes ROTATING_OUT keys whose grace period has elapsed.
// Driven by the background worker, not the request path.
func (r *KeyRing) PruneRotated(ctx context.Context, grace time.Duration) (int, error) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for i := range r.keys {
		if r.keys[i].Status == StatusRotatingOut && now.Sub(r.keys[i].RotatedAt) > grace {
			r.keys[i].Status = StatusRevoked
			pruned++
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, r.persistLocked(ctx)
}

// Records returns a snapshot of all key records with private keys elided,
// for the administrative key-status endpoint.
func (r *KeyRing) Records() []KeyRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]KeyRecord, len(r.keys))
	for i, record := range r.keys {
		record.Private = nil
		records[i] = record
	}
	return records
}
