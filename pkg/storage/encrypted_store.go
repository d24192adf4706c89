package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"behavior-server/pkg/fusion"
	"behavior-server/pkg/metrics"
	"behavior-server/pkg/orchestrator"
)

const (
	metricsPrefix = "ba:metrics:"
	sessionPrefix = "ba:session:"

	// Stored records are retained for 7 days.
	retention = 7 * 24 * time.Hour

	kdfSalt       = "behavior-analysis-salt-v1"
	kdfIterations = 100_000
)

// ErrNotFound signals a missing key in the backing store.
var ErrNotFound = errors.New("storage: key not found")

// Backend abstracts the key/value store behind the encrypted layer.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// EncryptedStore persists behavior snapshots and session summaries with
// AES-256-GCM encryption at rest.
type EncryptedStore struct {
	logger  *logrus.Entry
	aead    cipher.AEAD
	backend Backend
}

// NewEncryptedStore creates a store. A non-empty key is stretched with
// PBKDF2-SHA256; an empty key falls back to a random ephemeral key, so
// data does not survive a restart.
func NewEncryptedStore(key string, backend Backend, logger *logrus.Logger) (*EncryptedStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}

	var raw []byte
	if key != "" {
		raw = pbkdf2.Key([]byte(key), []byte(kdfSalt), kdfIterations, 32, sha256.New)
	} else {
		raw = make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
		}
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &EncryptedStore{
		logger:  logger.WithField("component", "encrypted_store"),
		aead:    aead,
		backend: backend,
	}, nil
}

// StoreSnapshot persists one behavior snapshot keyed by session and
// sequence number.
func (s *EncryptedStore) StoreSnapshot(ctx context.Context, sessionID string, seq int, snapshot *fusion.BehaviorSnapshot) error {
	key := metricsPrefix + sessionID + ":" + strconv.Itoa(seq)
	if err := s.storeJSON(ctx, key, snapshot); err != nil {
		return err
	}
	metrics.RecordSnapshotStored()
	return nil
}

// StoreSummary persists a session summary keyed by session identifier.
func (s *EncryptedStore) StoreSummary(ctx context.Context, sessionID string, summary *orchestrator.SessionSummary) error {
	return s.storeJSON(ctx, sessionPrefix+sessionID, summary)
}

// LoadSummary retrieves a previously stored session summary.
func (s *EncryptedStore) LoadSummary(ctx context.Context, sessionID string) (*orchestrator.SessionSummary, error) {
	data, err := s.backend.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		return nil, err
	}
	plain, err := s.decrypt(data)
	if err != nil {
		return nil, err
	}
	var summary orchestrator.SessionSummary
	if err := json.Unmarshal(plain, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}

// Close releases the backing store.
func (s *EncryptedStore) Close() error {
	return s.backend.Close()
}

func (s *EncryptedStore) storeJSON(ctx context.Context, key string, value interface{}) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	sealed, err := s.encrypt(plain)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, key, sealed, retention); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// encrypt seals plaintext with a random nonce prefix.
func (s *EncryptedStore) encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *EncryptedStore) decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("storage: ciphertext too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt record: %w", err)
	}
	return plain, nil
}

// RedisBackend stores records in Redis with per-key TTLs.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// MemoryBackend is the in-process fallback used when Redis is not
// configured. Entries expire lazily on read.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]memoryItem)}
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = memoryItem{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(item.expiresAt) {
		delete(b.items, key)
		return nil, ErrNotFound
	}
	return item.value, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
