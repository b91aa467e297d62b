package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindTable_BlockersOutrankBlocked(t *testing.T) {
	for _, k := range Kinds() {
		for _, blocked := range k.BlockedKinds() {
			assert.True(t, blocked.Valid(), "%s blocks unknown kind %s", k, blocked)
			assert.Greater(t, k.Priority(), blocked.Priority(), "%s must outrank %s", k, blocked)
			assert.False(t, blocked.Blocks(k), "%s and %s block each other", k, blocked)
		}
	}
}

func TestKind_Blocks(t *testing.T) {
	assert.True(t, KindRepliedToYourComment.Blocks(KindNewComment))
	assert.True(t, KindRepliedToYourComment.Blocks(KindNewCommentFromGroupStudent))
	assert.True(t, KindNewCommentFromGroupStudent.Blocks(KindNewCommentForInstructorsOnly))
	assert.False(t, KindNewComment.Blocks(KindRepliedToYourComment))
	assert.False(t, KindLikedYourComment.Blocks(KindNewComment))
}

func TestKind_BlockedBy(t *testing.T) {
	present := map[Kind]bool{KindRepliedToYourComment: true, KindNewComment: true}

	by, ok := KindNewComment.BlockedBy(present)
	assert.True(t, ok)
	assert.Equal(t, KindRepliedToYourComment, by)

	_, ok = KindRepliedToYourComment.BlockedBy(present)
	assert.False(t, ok)
}

func TestKinds_SortedByPriority(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, len(kindTable))
	assert.Equal(t, KindRepliedToYourComment, kinds[0])
	assert.Equal(t, KindNewCommentFromGroupStudent, kinds[1])
	for i := 1; i < len(kinds); i++ {
		assert.GreaterOrEqual(t, kinds[i-1].Priority(), kinds[i].Priority())
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("liked_your_comment")
	require.NoError(t, err)
	assert.Equal(t, KindLikedYourComment, k)

	_, err = ParseKind("poke")
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(KindRepliedToYourComment, json.RawMessage(`{"comment_id":42,"parent_comment_id":7}`))
	require.NoError(t, err)
	assert.Equal(t, "comment:42", p.Target())

	p, err = DecodePayload(KindPassedManualChecking, json.RawMessage(`{"checking_id":5,"is_recheck":true}`))
	require.NoError(t, err)
	assert.True(t, p.(*ManualCheckingPayload).IsRecheck)
	assert.Equal(t, "checking:5", p.Target())

	_, err = DecodePayload(KindNewComment, nil)
	assert.Error(t, err)

	_, err = DecodePayload(KindNewComment, json.RawMessage(`{"comment_id":"x"}`))
	assert.Error(t, err)
}

func TestDeliveryStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{DeliveryStatusPending, DeliveryStatusSent, true},
		{DeliveryStatusPending, DeliveryStatusFailed, true},
		{DeliveryStatusFailed, DeliveryStatusSent, true},
		{DeliveryStatusFailed, DeliveryStatusFailed, true},
		{DeliveryStatusFailed, DeliveryStatusAbandoned, true},
		{DeliveryStatusSent, DeliveryStatusFailed, false},
		{DeliveryStatusSent, DeliveryStatusPending, false},
		{DeliveryStatusAbandoned, DeliveryStatusSent, false},
		{DeliveryStatusPending, DeliveryStatusSuppressed, true},
		{DeliveryStatusFailed, DeliveryStatusSuppressed, true},
		{DeliveryStatusSent, DeliveryStatusSuppressed, false},
		{DeliveryStatusSuppressed, DeliveryStatusSent, false},
		{DeliveryStatusSuppressed, DeliveryStatusFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, DeliveryStatusSent.IsTerminal())
	assert.False(t, DeliveryStatusFailed.IsTerminal())
	assert.True(t, DeliveryStatusSuppressed.IsTerminal())
	assert.False(t, DeliveryStatusSuppressed.Sendable())
	assert.True(t, DeliveryStatusFailed.Sendable())
}

func TestUniqueByType(t *testing.T) {
	now := time.Now()
	oldMail := &Transport{ID: uuid.New(), Type: TransportMail, CreatedAt: now.Add(-time.Hour)}
	newMail := &Transport{ID: uuid.New(), Type: TransportMail, CreatedAt: now}
	bot := &Transport{ID: uuid.New(), Type: TransportChatBot, CreatedAt: now}

	got := UniqueByType([]*Transport{oldMail, bot, newMail})
	require.Len(t, got, 2)
	assert.Same(t, newMail, got[0])
	assert.Same(t, bot, got[1])
}
