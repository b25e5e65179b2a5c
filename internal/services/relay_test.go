package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onpostt/relay/internal/dto"
	"github.com/onpostt/relay/internal/models"
	"github.com/onpostt/relay/internal/session"
	"github.com/onpostt/relay/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelay(store BlockStore) *RelayService {
	return NewRelayService(store, NewFilterService(store, 1000), session.NewRegistry(), 0)
}

func TestSaveBlockPost(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	b := signedBlock(t, key, models.ModePost, "post1", time.Now().Unix(), nil)
	status, err := relay.SaveBlock(context.Background(), b)

	require.NoError(t, err)
	assert.Equal(t, dto.StatusSuccess, status.Status)
	assert.True(t, store.has("post1"))
}

func TestSaveBlockPostIsIdempotent(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	b := signedBlock(t, key, models.ModePost, "post1", time.Now().Unix(), nil)
	_, err := relay.SaveBlock(context.Background(), b)
	require.NoError(t, err)
	_, err = relay.SaveBlock(context.Background(), b)
	require.NoError(t, err)

	assert.Len(t, store.rows, 1)
}

func TestSaveBlockRejectsUnknownMode(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	for _, mode := range []string{"profile", "repost", "x"} {
		b := signedBlock(t, key, mode, "blk-"+mode, time.Now().Unix(), nil)
		status, err := relay.SaveBlock(context.Background(), b)
		assert.ErrorIs(t, err, ErrUnknownMode, "mode %s", mode)
		assert.Equal(t, dto.StatusError, status.Status)
	}
	assert.Empty(t, store.rows)
}

func TestSaveBlockRejectsTamperedSignature(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	b := signedBlock(t, key, models.ModePost, "post1", time.Now().Unix(), nil)
	b.CreatedAt++

	status, err := relay.SaveBlock(context.Background(), b)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Equal(t, dto.StatusError, status.Status)
	assert.Empty(t, store.rows)
}

func TestSaveBlockRejectsStaleBlock(t *testing.T) {
	store := newMemStore()
	relay := NewRelayService(store, NewFilterService(store, 1000), session.NewRegistry(), 3600)
	key := newKey(t)

	b := signedBlock(t, key, models.ModePost, "post1", time.Now().Unix()-7200, nil)
	status, err := relay.SaveBlock(context.Background(), b)

	assert.ErrorIs(t, err, validation.ErrBlockTooOld)
	assert.Equal(t, dto.StatusError, status.Status)
}

func TestSaveBlockFollowToggles(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)
	query := dto.TagPairs{{"following", "02bb"}, {"follower", "02aa"}}

	first := signedBlock(t, key, models.ModeFollow, "follow1", time.Now().Unix(), query)
	status, err := relay.SaveBlock(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, dto.StatusSuccess, status.Status)
	assert.Len(t, store.rows, 1)

	// A second follow with the same target undoes the first.
	second := signedBlock(t, key, models.ModeFollow, "follow2", time.Now().Unix()+1, query)
	status, err = relay.SaveBlock(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, dto.StatusSuccess, status.Status)
	assert.Contains(t, status.Message, "removed")
	assert.Empty(t, store.rows)
}

func TestSaveBlockLikeTogglePerTarget(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	like1 := signedBlock(t, key, models.ModeLike, "like1", time.Now().Unix(), dto.TagPairs{{"block", "target1"}})
	like2 := signedBlock(t, key, models.ModeLike, "like2", time.Now().Unix(), dto.TagPairs{{"block", "target2"}})

	_, err := relay.SaveBlock(context.Background(), like1)
	require.NoError(t, err)
	_, err = relay.SaveBlock(context.Background(), like2)
	require.NoError(t, err)

	// Different targets do not toggle each other.
	assert.Len(t, store.rows, 2)
}

func TestSaveBlockRejectsMissingMandatedTags(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	b := signedBlock(t, key, models.ModeLike, "like1", time.Now().Unix(), nil)
	status, err := relay.SaveBlock(context.Background(), b)
	assert.ErrorIs(t, err, validation.ErrMissingField)
	assert.Equal(t, dto.StatusError, status.Status)

	b = signedBlock(t, key, models.ModeFollow, "follow1", time.Now().Unix(),
		dto.TagPairs{{"following", "02bb"}, {"follower", "02aa"}, {"extra", "x"}})
	_, err = relay.SaveBlock(context.Background(), b)
	assert.ErrorIs(t, err, validation.ErrBadTagKeys)
}

func TestSaveBlockCommentAppends(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)
	query := dto.TagPairs{{"block", "target1"}}

	c1 := signedBlock(t, key, models.ModeComment, "c1", time.Now().Unix(), query)
	c2 := signedBlock(t, key, models.ModeComment, "c2", time.Now().Unix()+1, query)

	_, err := relay.SaveBlock(context.Background(), c1)
	require.NoError(t, err)
	_, err = relay.SaveBlock(context.Background(), c2)
	require.NoError(t, err)

	// Comments accumulate, they never toggle.
	assert.Len(t, store.rows, 2)
}

func TestSaveBlockDeleteOwned(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	post := signedBlock(t, key, models.ModePost, "post1", time.Now().Unix(), nil)
	_, err := relay.SaveBlock(context.Background(), post)
	require.NoError(t, err)

	del := signedBlock(t, key, models.ModeDelete, "del1", time.Now().Unix()+1, dto.TagPairs{{"block", "post1"}})
	status, err := relay.SaveBlock(context.Background(), del)
	require.NoError(t, err)
	assert.Equal(t, dto.StatusSuccess, status.Status)
	assert.False(t, store.has("post1"))
}

func TestSaveBlockDeleteRejectsForeignBlock(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	owner := newKey(t)
	other := newKey(t)

	post := signedBlock(t, owner, models.ModePost, "post1", time.Now().Unix(), nil)
	_, err := relay.SaveBlock(context.Background(), post)
	require.NoError(t, err)

	del := signedBlock(t, other, models.ModeDelete, "del1", time.Now().Unix()+1, dto.TagPairs{{"block", "post1"}})
	status, err := relay.SaveBlock(context.Background(), del)

	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Equal(t, dto.StatusError, status.Status)
	assert.True(t, store.has("post1"))
}

func TestSaveBlockDeleteOnlyCoversPostsAndMessages(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	follow := signedBlock(t, key, models.ModeFollow, "follow1", time.Now().Unix(),
		dto.TagPairs{{"following", "02bb"}, {"follower", "02aa"}})
	_, err := relay.SaveBlock(context.Background(), follow)
	require.NoError(t, err)

	del := signedBlock(t, key, models.ModeDelete, "del1", time.Now().Unix()+1, dto.TagPairs{{"block", "follow1"}})
	_, err = relay.SaveBlock(context.Background(), del)

	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.True(t, store.has("follow1"))
}

func TestSaveBlockMessageWritesBothRows(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	b := signedBlock(t, key, models.ModeMessage, "msg1", time.Now().Unix(),
		dto.TagPairs{{"from", "02aa"}, {"to", "02bb"}})
	status, err := relay.SaveBlock(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, dto.StatusSuccess, status.Status)

	sender, ok := store.get("msg1")
	require.True(t, ok)
	assert.Equal(t, "02aa", sender.Pubkey)
	assert.Equal(t, "02aa", sender.From)
	assert.Equal(t, "02bb", sender.To)

	mirror, ok := store.get("msg1" + models.RecipientMirrorSuffix)
	require.True(t, ok)
	assert.Equal(t, "02bb", mirror.Pubkey)
	assert.Equal(t, "02aa", mirror.From)
	assert.Equal(t, "02bb", mirror.To)
}

func TestSaveBlockMessageRequiresEndpoints(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	b := signedBlock(t, key, models.ModeMessage, "msg1", time.Now().Unix(),
		dto.TagPairs{{"from", "02aa"}})
	status, err := relay.SaveBlock(context.Background(), b)

	assert.ErrorIs(t, err, ErrMissingEndpoints)
	assert.Equal(t, dto.StatusError, status.Status)
	assert.Empty(t, store.rows)
}

type stubConn struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (c *stubConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, v)
	return nil
}

func (c *stubConn) Close() error { return nil }

func TestPublishMessageRejectsNonParticipant(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	b := signedBlock(t, key, models.ModeMessage, "msg1", time.Now().Unix(),
		dto.TagPairs{{"from", "02aa"}, {"to", "02bb"}})
	status, err := relay.PublishMessage(context.Background(), b)

	assert.ErrorIs(t, err, ErrNotInConversation)
	assert.Equal(t, dto.StatusError, status.Status)
	assert.Empty(t, store.rows)
}

func TestPublishMessageFansOutToBothParticipants(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	sender, recipient := &stubConn{}, &stubConn{}
	relay.Sessions().Subscribe("02aa", "02bb", sender)
	relay.Sessions().Subscribe("02bb", "02aa", recipient)

	b := signedBlock(t, key, models.ModeMessage, "msg1", time.Now().Unix(),
		dto.TagPairs{{"from", "02aa"}, {"to", "02bb"}})
	status, err := relay.PublishMessage(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, dto.StatusSuccess, status.Status)

	require.Len(t, sender.payloads, 1)
	require.Len(t, recipient.payloads, 1)

	resp, ok := recipient.payloads[0].(dto.BlocksResponse)
	require.True(t, ok)
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, "msg1", resp.Blocks[0].ID)
}

func TestPublishMessageDoesNotBroadcastOnRejectedBlock(t *testing.T) {
	store := newMemStore()
	relay := newRelay(store)
	key := newKey(t)

	sender := &stubConn{}
	relay.Sessions().Subscribe("02aa", "02bb", sender)

	b := signedBlock(t, key, models.ModeMessage, "msg1", time.Now().Unix(),
		dto.TagPairs{{"from", "02aa"}, {"to", "02bb"}})
	b.Sig = "deadbeef"

	_, err := relay.PublishMessage(context.Background(), b)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, sender.payloads)
}
