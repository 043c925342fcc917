// Package pending persists mint confirmations that were paid on-chain but not
// yet acknowledged by the backend.
//
// The whole collection lives as one JSON array under a single key of a
// kv.Backend. Storage failures never reach callers: they are logged and the
// operation degrades to a no-op (writes) or an empty result (reads).
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mint-confirm-service/internal/kv"
	"mint-confirm-service/internal/modal"
)

// StorageKey is the well-known key the records are stored under. It matches
// the key the web client writes, so existing collections are picked up as-is.
const StorageKey = "laura_pending_mint_confirms_v1"

var errUnavailable = errors.New("pending: storage backend unavailable")

// Store is the pending-confirmation store. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	backend kv.Backend
	key     string
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKey overrides StorageKey, e.g. to keep per-wallet collections apart.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a store over backend. A nil backend behaves as permanently
// unavailable storage.
func New(backend kv.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		key:     StorageKey,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert writes the record for orderID, replacing any previous one, and stamps
// it with the current time.
func (s *Store) Upsert(orderID, txHash, characterID string) {
	next := modal.PendingConfirmation{
		OrderID:     orderID,
		TxHash:      txHash,
		CharacterID: characterID,
	}

	err := s.mutate(func(all []modal.PendingConfirmation) []modal.PendingConfirmation {
		next.UpdatedAt = s.now().UnixMilli()
		for i := range all {
			if all[i].OrderID == orderID {
				all[i] = next
				return all
			}
		}
		return append(all, next)
	})
	if err != nil {
		s.logger.Warn("pending store upsert failed", zap.String("orderId", orderID), zap.Error(err))
	}
}

// Remove deletes the record for orderID if there is one.
func (s *Store) Remove(orderID string) {
	err := s.mutate(func(all []modal.PendingConfirmation) []modal.PendingConfirmation {
		kept := all[:0]
		for _, it := range all {
			if it.OrderID != orderID {
				kept = append(kept, it)
			}
		}
		return kept
	})
	if err != nil {
		s.logger.Warn("pending store remove failed", zap.String("orderId", orderID), zap.Error(err))
	}
}

// mutate applies fn to the stored list as one atomic backend update. Corrupt
// data is treated as an empty list and overwritten; a failed read writes
// nothing.
func (s *Store) mutate(fn func([]modal.PendingConfirmation) []modal.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return errUnavailable
	}
	return s.backend.Update(s.key, func(old string, found bool) (string, error) {
		all, err := decode(old, found)
		if err != nil {
			if !isDecodeError(err) {
				return "", err
			}
			s.logger.Warn("pending store data corrupt, overwriting", zap.Error(err))
		}
		return encode(fn(all))
	})
}

// Get returns the record for orderID. ok is false when there is none or the
// storage cannot be read.
func (s *Store) Get(orderID string) (modal.PendingConfirmation, bool) {
	for _, it := range s.ListAll() {
		if it.OrderID == orderID {
			return it, true
		}
	}
	return modal.PendingConfirmation{}, false
}

// ListAll returns every well-formed record in insertion order.
func (s *Store) ListAll() []modal.PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		s.logger.Warn("pending store read failed", zap.Error(err))
		return []modal.PendingConfirmation{}
	}
	return all
}

// Clear drops every record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return
	}
	if err := s.backend.Remove(s.key); err != nil {
		s.logger.Warn("pending store clear failed", zap.Error(err))
	}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "pending: corrupt stored data: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

// storedRecord mirrors modal.PendingConfirmation with pointer fields so that
// missing or mistyped entries can be told apart from empty strings.
type storedRecord struct {
	OrderID     *string         `json:"orderId"`
	TxHash      *string         `json:"txHash"`
	CharacterID json.RawMessage `json:"characterId"`
	UpdatedAt   json.RawMessage `json:"updatedAt"`
}

func (s *Store) readAll() ([]modal.PendingConfirmation, error) {
	if s.backend == nil {
		return nil, errUnavailable
	}

	raw, err := s.backend.Get(s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return []modal.PendingConfirmation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.key, err)
	}
	return decode(raw, true)
}

func decode(raw string, found bool) ([]modal.PendingConfirmation, error) {
	if !found || raw == "" {
		return []modal.PendingConfirmation{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return []modal.PendingConfirmation{}, &decodeError{err: err}
	}

	out := make([]modal.PendingConfirmation, 0, len(entries))
	for _, entry := range entries {
		var rec storedRecord
		if err := json.Unmarshal(entry, &rec); err != nil {
			continue
		}
		if rec.OrderID == nil || rec.TxHash == nil {
			continue
		}
		out = append(out, modal.PendingConfirmation{
			OrderID:     *rec.OrderID,
			TxHash:      *rec.TxHash,
			CharacterID: optionalString(rec.CharacterID),
			UpdatedAt:   optionalMillis(rec.UpdatedAt),
		})
	}
	return out, nil
}

func encode(items []modal.PendingConfirmation) (string, error) {
	if items == nil {
		items = []modal.PendingConfirmation{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode pending confirmations: %w", err)
	}
	return string(b), nil
}

func optionalString(raw json.RawMessage) string {
	var v string
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v
}

func optionalMillis(raw json.RawMessage) int64 {
	var v float64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return 0
	}
	return int64(v)
}
