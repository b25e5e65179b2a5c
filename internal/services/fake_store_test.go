package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/models"
	"github.com/onpostt/relay/internal/signature"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory BlockStore with the same write semantics as the
// SQL-backed one, so coordinator behavior is testable without a database.
type memStore struct {
	mu        sync.Mutex
	rows      []models.Block
	lastQuery *BlockQuery
	queryErr  error
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) has(id string) bool {
	for _, r := range s.rows {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *memStore) get(id string) (models.Block, bool) {
	for _, r := range s.rows {
		if r.ID == id {
			return r, true
		}
	}
	return models.Block{}, false
}

func (s *memStore) InsertIgnore(_ context.Context, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has(block.ID) {
		s.rows = append(s.rows, *block)
	}
	return nil
}

func (s *memStore) DeleteOwned(_ context.Context, blockID, pubkey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows {
		if r.ID == blockID && r.Pubkey == pubkey &&
			(r.Mode == models.ModePost || r.Mode == models.ModeMessage) {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ToggleSet(_ context.Context, pubkey, mode, tagKey, tagValue string, full *models.Block) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.Pubkey == pubkey && r.Mode == mode && queryContains(r, tagKey, tagValue) {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept

	if removed {
		return false, nil
	}
	if !s.has(full.ID) {
		s.rows = append(s.rows, *full)
	}
	return true, nil
}

func (s *memStore) AppendAlways(ctx context.Context, block *models.Block) error {
	return s.InsertIgnore(ctx, block)
}

func (s *memStore) DualInsert(ctx context.Context, sender, recipient *models.Block) error {
	if err := s.InsertIgnore(ctx, sender); err != nil {
		return err
	}
	return s.InsertIgnore(ctx, recipient)
}

func (s *memStore) Query(_ context.Context, q *BlockQuery) ([]models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	var out []models.Block
	for _, r := range s.rows {
		if r.Deleted {
			continue
		}
		if q.Pubkey != "" && r.Pubkey != q.Pubkey {
			continue
		}
		if q.Mode != "" && r.Mode != q.Mode {
			continue
		}
		if q.Since > 0 && r.CreatedAt < q.Since {
			continue
		}
		if q.Until > 0 && r.CreatedAt > q.Until {
			continue
		}
		if q.App != "" && r.App != q.App {
			continue
		}
		if q.ID != "" && r.ID != q.ID {
			continue
		}
		if !containsAll(r, q.Contains) {
			continue
		}
		if len(q.FromTo) > 0 && !matchesEndpoints(r, q.FromTo) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if q.Limit > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
		if len(out) > q.Limit {
			out = out[:q.Limit]
		}
	}
	return out, nil
}

func queryContains(r models.Block, key, value string) bool {
	var pairs dto.TagPairs
	if err := json.Unmarshal(r.Query, &pairs); err != nil {
		return false
	}
	v, ok := pairs.Get(key)
	return ok && v == value
}

func containsAll(r models.Block, pairs dto.TagPairs) bool {
	for _, p := range pairs {
		if !queryContains(r, p.Key(), p.Value()) {
			return false
		}
	}
	return true
}

func matchesEndpoints(r models.Block, fromTo [][2]string) bool {
	for _, ft := range fromTo {
		if r.From == ft[0] && r.To == ft[1] {
			return true
		}
	}
	return false
}

// signedBlock builds a block signed with the given key; the pubkey field is
// set to the key's compressed form.
func signedBlock(t *testing.T, priv *secp256k1.PrivateKey, mode, id string, createdAt int64, query dto.TagPairs) *dto.Block {
	t.Helper()

	b := &dto.Block{
		ID:        id,
		Pubkey:    hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		CreatedAt: createdAt,
		Mode:      mode,
		Content:   json.RawMessage(`"payload"`),
		App:       "example.com",
		Query:     query,
	}
	if mode == models.ModeDelete {
		b.Content = nil
		b.App = ""
	}

	canonical, err := signature.Canonical(b)
	require.NoError(t, err)
	hash := sha256.Sum256(canonical)
	b.Sig = hex.EncodeToString(ecdsa.Sign(priv, hash[:]).Serialize())
	return b
}

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv
}
