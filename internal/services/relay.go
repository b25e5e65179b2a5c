package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/models"
	"github.com/onpostt/relay/internal/session"
	"github.com/onpostt/relay/internal/signature"
	"github.com/onpostt/relay/internal/validation"
	"gorm.io/datatypes"
)

var (
	ErrUnknownMode       = errors.New("'mode' missing or not an allowed value")
	ErrBadSignature      = errors.New("invalid signature, block rejected")
	ErrTargetNotFound    = errors.New("target block not found or not owned by author")
	ErrMissingEndpoints  = errors.New("message block requires 'from' and 'to' in query")
	ErrNotInConversation = errors.New("sender is not a participant of this conversation")
)

// RelayService is the coordinator: it validates, verifies and persists
// published blocks through a mode-keyed dispatch table, and drives the
// session registry for message fan-out.
type RelayService struct {
	store    BlockStore
	filters  *FilterService
	sessions *session.Registry
	maxAge   int64
}

func NewRelayService(store BlockStore, filters *FilterService, sessions *session.Registry, maxAge int64) *RelayService {
	return &RelayService{store: store, filters: filters, sessions: sessions, maxAge: maxAge}
}

func (r *RelayService) Sessions() *session.Registry { return r.sessions }

// GetBlocks is the query path, shared by one-shot requests and subscription
// snapshots.
func (r *RelayService) GetBlocks(ctx context.Context, filter *dto.Filter) ([]models.Block, error) {
	return r.filters.GetBlocks(ctx, filter)
}

// modeRule is one entry of the dispatch table: the extra tag validation a
// mode mandates and its persistence operation.
type modeRule struct {
	requiredTags []string
	persist      func(ctx context.Context, r *RelayService, b *dto.Block) (string, error)
}

var modeTable = map[string]modeRule{
	models.ModePost: {
		persist: persistInsert,
	},
	models.ModeMessage: {
		persist: persistDualInsert,
	},
	models.ModeFollow: {
		requiredTags: []string{"following", "follower"},
		persist:      persistToggle("following"),
	},
	models.ModeLike: {
		requiredTags: []string{"block"},
		persist:      persistToggle("block"),
	},
	models.ModeComment: {
		requiredTags: []string{"block"},
		persist:      persistAppend,
	},
	models.ModeDelete: {
		requiredTags: []string{"block"},
		persist:      persistDelete,
	},
}

// SaveBlock runs the full publish pipeline for one block: shape validation,
// signature verification, mode dispatch, persistence. The returned Status is
// the structured response for the caller; the error carries the failure class
// and is nil on success.
func (r *RelayService) SaveBlock(ctx context.Context, b *dto.Block) (dto.Status, error) {
	if err := validation.ValidateShape(b); err != nil {
		return dto.Error("invalid block: " + err.Error()), err
	}
	if err := validation.ValidateAge(b, r.maxAge); err != nil {
		return dto.Error(err.Error()), err
	}

	rule, ok := modeTable[b.Mode]
	if !ok {
		return dto.Error(ErrUnknownMode.Error()), ErrUnknownMode
	}

	canonical, err := signature.Canonical(b)
	if err != nil || !signature.Verify(b.Pubkey, canonical, b.Sig) {
		slog.Warn("signature rejected", "block_id", b.ID, "pubkey", b.Pubkey)
		return dto.Error(ErrBadSignature.Error()), ErrBadSignature
	}

	if rule.requiredTags != nil {
		if err := validation.ExactTagKeys(b.Query, rule.requiredTags...); err != nil {
			return dto.Error(err.Error()), err
		}
	}

	message, err := rule.persist(ctx, r, b)
	if err != nil {
		if errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrMissingEndpoints) {
			return dto.Error(err.Error()), err
		}
		slog.Error("failed to save block", "block_id", b.ID, "pubkey", b.Pubkey, "action", "save_block", "error", err)
		return dto.Error("failed to save block: " + err.Error()), err
	}
	return dto.Success(message), nil
}

// PublishMessage is the real-time publish path: the sender must already be a
// registered participant of the conversation, persistence goes through the
// dual insert, and the block is fanned out to every live participant.
func (r *RelayService) PublishMessage(ctx context.Context, b *dto.Block) (dto.Status, error) {
	from, to, ok := b.Query.FromTo()
	if !ok {
		return dto.Error(ErrMissingEndpoints.Error()), ErrMissingEndpoints
	}

	key := session.PairKey(from, to)
	if !r.sessions.IsParticipant(key, from) {
		err := fmt.Errorf("%w: %s", ErrNotInConversation, from)
		return dto.Error(err.Error()), err
	}

	status, err := r.SaveBlock(ctx, b)
	if err != nil {
		return status, err
	}

	r.sessions.Broadcast(key, dto.Blocks([]models.Block{*rowFromBlock(b)}, ""))
	return status, nil
}

func persistInsert(ctx context.Context, r *RelayService, b *dto.Block) (string, error) {
	if err := r.store.InsertIgnore(ctx, rowFromBlock(b)); err != nil {
		return "", err
	}
	return fmt.Sprintf("block %s published", b.ID), nil
}

func persistAppend(ctx context.Context, r *RelayService, b *dto.Block) (string, error) {
	if err := r.store.AppendAlways(ctx, rowFromBlock(b)); err != nil {
		return "", err
	}
	return fmt.Sprintf("block %s published", b.ID), nil
}

func persistToggle(tagKey string) func(ctx context.Context, r *RelayService, b *dto.Block) (string, error) {
	return func(ctx context.Context, r *RelayService, b *dto.Block) (string, error) {
		value, _ := b.Query.Get(tagKey)
		inserted, err := r.store.ToggleSet(ctx, b.Pubkey, b.Mode, tagKey, value, rowFromBlock(b))
		if err != nil {
			return "", err
		}
		if !inserted {
			return fmt.Sprintf("%s for %s removed", b.Mode, value), nil
		}
		return fmt.Sprintf("block %s published", b.ID), nil
	}
}

func persistDelete(ctx context.Context, r *RelayService, b *dto.Block) (string, error) {
	targetID, _ := b.Query.Get("block")
	removed, err := r.store.DeleteOwned(ctx, targetID, b.Pubkey)
	if err != nil {
		return "", err
	}
	if !removed {
		return "", fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}
	return fmt.Sprintf("block %s deleted", targetID), nil
}

func persistDualInsert(ctx context.Context, r *RelayService, b *dto.Block) (string, error) {
	from, to, ok := b.Query.FromTo()
	if !ok {
		return "", ErrMissingEndpoints
	}

	sender := rowFromBlock(b)
	sender.Pubkey = from
	sender.From = from
	sender.To = to

	recipient := rowFromBlock(b)
	recipient.ID = b.ID + models.RecipientMirrorSuffix
	recipient.Pubkey = to
	recipient.From = from
	recipient.To = to

	if err := r.store.DualInsert(ctx, sender, recipient); err != nil {
		return "", err
	}
	return fmt.Sprintf("block %s published", b.ID), nil
}

func rowFromBlock(b *dto.Block) *models.Block {
	queryJSON := datatypes.JSON("[]")
	if b.Query != nil {
		if raw, err := json.Marshal(b.Query); err == nil {
			queryJSON = datatypes.JSON(raw)
		}
	}

	return &models.Block{
		ID:        b.ID,
		Pubkey:    b.Pubkey,
		CreatedAt: b.CreatedAt,
		Mode:      b.Mode,
		Content:   datatypes.JSON(b.Content),
		Sig:       b.Sig,
		App:       b.App,
		Query:     queryJSON,
	}
}
