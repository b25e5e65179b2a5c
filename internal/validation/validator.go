package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/models"
)

var (
	ErrMissingField  = errors.New("required field missing or mistyped")
	ErrBlockTooOld   = errors.New("block created_at too far from server time")
	ErrBadTagKeys    = errors.New("query contains invalid fields")
	ErrDuplicateTags = errors.New("query contains duplicated fields")
)

// ValidateShape checks an incoming block against the field requirements of its
// declared mode. It has no side effects and fails closed: any missing required
// field rejects the whole block. Unknown modes are not rejected here; the
// coordinator's dispatch table handles those.
func ValidateShape(b *dto.Block) error {
	if b.ID == "" || b.Pubkey == "" || b.Sig == "" || b.Mode == "" || b.CreatedAt == 0 {
		return ErrMissingField
	}
	if b.Mode == models.ModeDelete {
		return nil
	}
	if !b.HasContent() || b.App == "" {
		return ErrMissingField
	}
	return nil
}

// ValidateAge enforces the optional timestamp-skew bound. maxAge is in
// seconds; zero disables the check entirely.
func ValidateAge(b *dto.Block, maxAge int64) error {
	if maxAge == 0 {
		return nil
	}
	if time.Now().Unix()-b.CreatedAt > maxAge {
		return ErrBlockTooOld
	}
	return nil
}

// ExactTagKeys verifies that the block's query carries every key in allowed,
// each exactly once, and nothing else. Modes with mandated tags (delete,
// follow, like, comment) reject on violation rather than silently dropping.
func ExactTagKeys(q dto.TagPairs, allowed ...string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}

	seen := make(map[string]bool, len(q))
	for _, p := range q {
		if !allowedSet[p.Key()] {
			return fmt.Errorf("%w: %s", ErrBadTagKeys, p.Key())
		}
		if seen[p.Key()] {
			return fmt.Errorf("%w: %s", ErrDuplicateTags, p.Key())
		}
		seen[p.Key()] = true
	}

	for _, k := range allowed {
		if v, ok := q.Get(k); !ok || v == "" {
			return fmt.Errorf("field %q missing or invalid in query: %w", k, ErrMissingField)
		}
	}
	return nil
}
