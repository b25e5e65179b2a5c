package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlockStore is the persistence surface of the relay. Each write operation
// carries the semantics of one block mode; Query is the single read path used
// by the filter engine for one-shot queries and subscription snapshots alike.
type BlockStore interface {
	// InsertIgnore inserts a block; an existing id is a no-op, never an error
	// and never a duplicate row.
	InsertIgnore(ctx context.Context, block *models.Block) error
	// DeleteOwned removes the target row only if it exists, belongs to pubkey
	// and has mode post or message. It reports whether a row was removed.
	DeleteOwned(ctx context.Context, blockID, pubkey string) (bool, error)
	// ToggleSet deletes any row matching (pubkey, mode, tagKey=tagValue); if
	// none matched it inserts full instead. Applying the same action twice
	// therefore returns the tuple to the absent state.
	ToggleSet(ctx context.Context, pubkey, mode, tagKey, tagValue string, full *models.Block) (inserted bool, err error)
	// AppendAlways inserts unconditionally (id uniqueness still applies).
	AppendAlways(ctx context.Context, block *models.Block) error
	// DualInsert writes the sender-owned row and the recipient mirror as one
	// logical unit.
	DualInsert(ctx context.Context, sender, recipient *models.Block) error
	Query(ctx context.Context, q *BlockQuery) ([]models.Block, error)
}

// BlockQuery is the translated form of a filter: a conjunction of equality and
// range predicates, jsonb containment pairs, and an optional disjunction over
// (from, to) endpoints for message lookups. Limit 0 means no SQL-side paging.
type BlockQuery struct {
	Pubkey   string
	Mode     string
	Since    int64
	Until    int64
	App      string
	ID       string
	Contains dto.TagPairs
	FromTo   [][2]string
	Limit    int
	Offset   int
}

// GormStore is the PostgreSQL-backed BlockStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) InsertIgnore(ctx context.Context, block *models.Block) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(block).Error
}

func (s *GormStore) DeleteOwned(ctx context.Context, blockID, pubkey string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND pubkey = ? AND mode IN ?", blockID, pubkey, []string{models.ModePost, models.ModeMessage}).
		Delete(&models.Block{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) ToggleSet(ctx context.Context, pubkey, mode, tagKey, tagValue string, full *models.Block) (bool, error) {
	pair, err := containmentJSON(dto.TagPair{tagKey, tagValue})
	if err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).
		Where("pubkey = ? AND mode = ? AND query @> ?::jsonb", pubkey, mode, pair).
		Delete(&models.Block{})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return false, nil
	}

	return true, s.InsertIgnore(ctx, full)
}

func (s *GormStore) AppendAlways(ctx context.Context, block *models.Block) error {
	return s.InsertIgnore(ctx, block)
}

func (s *GormStore) DualInsert(ctx context.Context, sender, recipient *models.Block) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sender).Error; err != nil {
			return fmt.Errorf("sender row: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(recipient).Error; err != nil {
			return fmt.Errorf("recipient row: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dual insert for block %s: %w", sender.ID, err)
	}
	return nil
}

func (s *GormStore) Query(ctx context.Context, q *BlockQuery) ([]models.Block, error) {
	db := s.db.WithContext(ctx).Model(&models.Block{}).Where("deleted = ?", false)

	if q.Pubkey != "" {
		db = db.Where("pubkey = ?", q.Pubkey)
	}
	if q.Mode != "" {
		db = db.Where("mode = ?", q.Mode)
	}
	if q.Since > 0 {
		db = db.Where("created_at >= ?", q.Since)
	}
	if q.Until > 0 {
		db = db.Where("created_at <= ?", q.Until)
	}
	if q.App != "" {
		db = db.Where("app = ?", q.App)
	}
	if q.ID != "" {
		db = db.Where("id = ?", q.ID)
	}

	for _, p := range q.Contains {
		pair, err := containmentJSON(p)
		if err != nil {
			return nil, err
		}
		db = db.Where("query @> ?::jsonb", pair)
	}

	if len(q.FromTo) > 0 {
		or := s.db.Where(`"from" = ? AND "to" = ?`, q.FromTo[0][0], q.FromTo[0][1])
		for _, ft := range q.FromTo[1:] {
			or = or.Or(s.db.Where(`"from" = ? AND "to" = ?`, ft[0], ft[1]))
		}
		db = db.Where(or)
	}

	db = db.Order("created_at DESC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit).Offset(q.Offset)
	}

	var blocks []models.Block
	if err := db.Find(&blocks).Error; err != nil {
		return nil, err
	}
	return blocks, nil
}

// containmentJSON renders a single tag pair as the jsonb document matched with
// the @> operator, e.g. [["following","<pubkey>"]].
func containmentJSON(p dto.TagPair) (string, error) {
	b, err := json.Marshal(dto.TagPairs{p})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
