package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/models"
)

var ErrInvalidFilter = errors.New("'mode' missing or not an allowed value")

// FilterService translates declarative filters into store queries and applies
// the post-processing reductions that cannot be expressed in SQL.
type FilterService struct {
	store         BlockStore
	maxPerRequest int
}

func NewFilterService(store BlockStore, maxPerRequest int) *FilterService {
	return &FilterService{store: store, maxPerRequest: maxPerRequest}
}

// GetBlocks runs a filter and returns matching blocks ordered by created_at
// descending, paged by offset and a capped limit. An empty result is a valid
// result, never an error.
func (f *FilterService) GetBlocks(ctx context.Context, filter *dto.Filter) ([]models.Block, error) {
	if filter == nil || !models.IsFilterMode(filter.Mode) {
		return nil, ErrInvalidFilter
	}

	q := &BlockQuery{
		Pubkey: filter.Pubkey,
		Mode:   filter.Mode,
		Since:  filter.Since,
		Until:  filter.Until,
		App:    filter.App,
		ID:     filter.ID,
	}

	if filter.Mode == models.ModeMessage {
		q.FromTo = fromToPairs(filter.PairGroups())
	} else if len(filter.Query) > 0 {
		pairs, err := filter.TagQuery()
		if err != nil {
			return nil, fmt.Errorf("%w: malformed query", ErrInvalidFilter)
		}
		q.Contains = pairs
	}

	limit := capLimit(filter.Limit, f.maxPerRequest)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	// Profile reduces to one row per pubkey before paging, so paging must
	// happen after the scan.
	profile := filter.Mode == models.ModeProfile
	if !profile {
		q.Limit = limit
		q.Offset = offset
	}

	blocks, err := f.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	if profile {
		blocks = reduceProfiles(blocks)
		sortByCreatedAtDesc(blocks)
		blocks = pageSlice(blocks, offset, limit)
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	return blocks, nil
}

// fromToPairs extracts the (from, to) endpoint pairs from message filter
// groups. Groups missing either endpoint are skipped.
func fromToPairs(groups []dto.TagPairs) [][2]string {
	var pairs [][2]string
	for _, g := range groups {
		if from, to, ok := g.FromTo(); ok {
			pairs = append(pairs, [2]string{from, to})
		}
	}
	return pairs
}

// reduceProfiles keeps, per pubkey, the row with the maximum created_at. On a
// tie the row seen first wins, which is stable for a descending input.
func reduceProfiles(blocks []models.Block) []models.Block {
	latest := make(map[string]models.Block, len(blocks))
	order := make([]string, 0, len(blocks))
	for _, b := range blocks {
		prev, ok := latest[b.Pubkey]
		if !ok {
			order = append(order, b.Pubkey)
			latest[b.Pubkey] = b
			continue
		}
		if b.CreatedAt > prev.CreatedAt {
			latest[b.Pubkey] = b
		}
	}

	result := make([]models.Block, 0, len(order))
	for _, pk := range order {
		result = append(result, latest[pk])
	}
	return result
}

func sortByCreatedAtDesc(blocks []models.Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].CreatedAt > blocks[j].CreatedAt
	})
}

// capLimit clamps a requested limit to the configured ceiling; zero or
// negative requests use the ceiling.
func capLimit(requested, max int) int {
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}

func pageSlice(blocks []models.Block, offset, limit int) []models.Block {
	if offset >= len(blocks) {
		return []models.Block{}
	}
	end := offset + limit
	if end > len(blocks) {
		end = len(blocks)
	}
	return blocks[offset:end]
}
