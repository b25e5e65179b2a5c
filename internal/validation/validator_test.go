package validation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/onpostt/relay/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBlock(mode string) *dto.Block {
	return &dto.Block{
		ID:        "blk1",
		Pubkey:    "02aa",
		CreatedAt: time.Now().Unix(),
		Mode:      mode,
		Content:   json.RawMessage(`"hello"`),
		Sig:       "3045deadbeef",
		App:       "example.com",
	}
}

func TestValidateShapeAcceptsFullBlock(t *testing.T) {
	for _, mode := range []string{"post", "message", "follow", "like", "comment"} {
		assert.NoError(t, ValidateShape(validBlock(mode)), "mode %s", mode)
	}
}

func TestValidateShapeRejectsMissingCommonFields(t *testing.T) {
	cases := map[string]func(b *dto.Block){
		"id":         func(b *dto.Block) { b.ID = "" },
		"pubkey":     func(b *dto.Block) { b.Pubkey = "" },
		"sig":        func(b *dto.Block) { b.Sig = "" },
		"mode":       func(b *dto.Block) { b.Mode = "" },
		"created_at": func(b *dto.Block) { b.CreatedAt = 0 },
	}
	for name, mutate := range cases {
		b := validBlock("post")
		mutate(b)
		assert.ErrorIs(t, ValidateShape(b), ErrMissingField, "missing %s", name)
	}
}

func TestValidateShapeRejectsMissingContentAndApp(t *testing.T) {
	b := validBlock("post")
	b.Content = nil
	assert.ErrorIs(t, ValidateShape(b), ErrMissingField)

	b = validBlock("post")
	b.Content = json.RawMessage("null")
	assert.ErrorIs(t, ValidateShape(b), ErrMissingField)

	b = validBlock("post")
	b.App = ""
	assert.ErrorIs(t, ValidateShape(b), ErrMissingField)
}

func TestValidateShapeDeleteSkipsContentAndApp(t *testing.T) {
	b := validBlock("delete")
	b.Content = nil
	b.App = ""
	assert.NoError(t, ValidateShape(b))
}

func TestValidateAgeDisabledByDefault(t *testing.T) {
	b := validBlock("post")
	b.CreatedAt = 1
	assert.NoError(t, ValidateAge(b, 0))
}

func TestValidateAgeRejectsStaleBlocks(t *testing.T) {
	b := validBlock("post")
	b.CreatedAt = time.Now().Unix() - 7200
	assert.ErrorIs(t, ValidateAge(b, 3600), ErrBlockTooOld)

	b.CreatedAt = time.Now().Unix() - 60
	assert.NoError(t, ValidateAge(b, 3600))
}

func TestExactTagKeys(t *testing.T) {
	q := dto.TagPairs{{"following", "02bb"}, {"follower", "02aa"}}
	require.NoError(t, ExactTagKeys(q, "following", "follower"))
}

func TestExactTagKeysRejectsUnknownKey(t *testing.T) {
	q := dto.TagPairs{{"block", "blk1"}, {"extra", "x"}}
	assert.ErrorIs(t, ExactTagKeys(q, "block"), ErrBadTagKeys)
}

func TestExactTagKeysRejectsDuplicates(t *testing.T) {
	q := dto.TagPairs{{"block", "blk1"}, {"block", "blk2"}}
	assert.ErrorIs(t, ExactTagKeys(q, "block"), ErrDuplicateTags)
}

func TestExactTagKeysRejectsMissingOrEmpty(t *testing.T) {
	assert.ErrorIs(t, ExactTagKeys(nil, "block"), ErrMissingField)

	q := dto.TagPairs{{"block", ""}}
	assert.ErrorIs(t, ExactTagKeys(q, "block"), ErrMissingField)

	q = dto.TagPairs{{"following", "02bb"}}
	assert.ErrorIs(t, ExactTagKeys(q, "following", "follower"), ErrMissingField)
}
