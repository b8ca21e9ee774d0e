package followup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/followup/internal/models"
	"github.com/hray3182/followup/internal/schedule"
)

func dates(fups []*models.FollowUp) []time.Time {
	out := make([]time.Time, len(fups))
	for i, f := range fups {
		out[i] = f.Date
	}
	return out
}

func TestRunAt(t *testing.T) {
	h := newHarness(t, at(4, 1, 0))
	ctx := context.Background()

	daily, err := h.svc.Create(ctx, input("o", "daily", dailyRule(at(4, 1, 9), nil), schedule.PastEventsLastOnly))
	require.NoError(t, err)
	once, err := h.svc.Create(ctx, input("o", "once", dailyRule(at(4, 2, 9), intPtr(1)), schedule.PastEventsAll))
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, input("other", "daily", dailyRule(at(4, 1, 9), nil), ""))
	require.NoError(t, err)

	next, err := h.svc.RunAt(ctx, "o", at(4, 3, 10))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, at(4, 4, 9), *next)

	assert.Equal(t, []string{"list", "add", "update_state", "send", "save_responses"}, h.calls.list())
	assert.ElementsMatch(t, []time.Time{at(4, 3, 9), at(4, 2, 9)}, dates(h.followups.added))
	assert.Equal(t, h.followups.added, h.sender.sent)

	for _, f := range h.followups.saved {
		assert.Equal(t, "o", f.OwnerID)
		assert.Equal(t, "**drink** water", f.Message)
		require.Len(t, f.Channels, 1)
		resp, ok := f.Response(f.Channels[0].ID)
		require.True(t, ok)
		assert.Equal(t, models.ResponseSent, resp.Status)
	}

	d := h.gens.get(daily.ID)
	assert.False(t, d.Exhausted)
	assert.Equal(t, at(4, 3, 9), *d.State.LastRun)
	assert.Equal(t, at(4, 4, 9), *d.State.NextRun)

	o := h.gens.get(once.ID)
	assert.True(t, o.Exhausted)
	assert.Equal(t, 0, *o.State.Remaining)
	assert.Nil(t, o.State.NextRun)
}

func TestRunAtDoesNotRedeliver(t *testing.T) {
	h := newHarness(t, at(4, 1, 0))
	ctx := context.Background()
	_, err := h.svc.Create(ctx, input("o", "daily", dailyRule(at(4, 1, 9), nil), schedule.PastEventsAll))
	require.NoError(t, err)

	_, err = h.svc.RunAt(ctx, "o", at(4, 3, 10))
	require.NoError(t, err)
	require.Len(t, h.followups.added, 3)

	next, err := h.svc.RunAt(ctx, "o", at(4, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, at(4, 4, 9), *next)
	assert.Len(t, h.followups.added, 3)
	assert.Len(t, h.sender.sent, 3)
}

func TestRunAtNoneStillAdvances(t *testing.T) {
	h := newHarness(t, at(4, 1, 0))
	ctx := context.Background()
	created, err := h.svc.Create(ctx, input("o", "quiet", dailyRule(at(4, 1, 9), intPtr(5)), schedule.PastEventsNone))
	require.NoError(t, err)

	next, err := h.svc.RunAt(ctx, "o", at(4, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, at(4, 4, 9), *next)
	assert.Empty(t, h.followups.added)
	assert.NotContains(t, h.calls.list(), "send")

	g := h.gens.get(created.ID)
	assert.Equal(t, 2, *g.State.Remaining)
	assert.Equal(t, at(4, 3, 9), *g.State.LastRun)
}

func TestRunAtDeliveryError(t *testing.T) {
	h := newHarness(t, at(4, 1, 0))
	ctx := context.Background()
	_, err := h.svc.Create(ctx, input("o", "daily", dailyRule(at(4, 1, 9), intPtr(3)), ""))
	require.NoError(t, err)
	h.sender.err = errSend

	next, err := h.svc.RunAt(ctx, "o", at(4, 1, 10))
	assert.ErrorIs(t, err, errSend)
	assert.Nil(t, next)
	assert.Equal(t, []string{"list", "add", "update_state", "send"}, h.calls.list())
}

func TestRunUsesClock(t *testing.T) {
	h := newHarness(t, at(4, 1, 0))
	ctx := context.Background()
	_, err := h.svc.Create(ctx, input("o", "daily", dailyRule(at(4, 1, 9), intPtr(3)), ""))
	require.NoError(t, err)

	h.svc.now = func() time.Time { return at(4, 1, 12) }
	next, err := h.svc.Run(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, at(4, 2, 9), *next)
	assert.Equal(t, []time.Time{at(4, 1, 9)}, dates(h.followups.added))
}

func TestRunAtUnknownOwner(t *testing.T) {
	h := newHarness(t, at(4, 1, 0))
	next, err := h.svc.RunAt(context.Background(), "nobody", at(4, 1, 0))
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Empty(t, h.followups.added)
}

func TestRunAtSkipsGeneratorDeletedMidCycle(t *testing.T) {
	h := newHarness(t, at(4, 1, 0))
	ctx := context.Background()
	kept, err := h.svc.Create(ctx, input("o", "kept", dailyRule(at(4, 1, 9), intPtr(3)), ""))
	require.NoError(t, err)
	gone, err := h.svc.Create(ctx, input("o", "gone", dailyRule(at(4, 1, 9), intPtr(3)), ""))
	require.NoError(t, err)

	h.gens.afterList = func() {
		h.gens.afterList = nil
		_, err := h.svc.Delete(ctx, DeleteTarget{ID: gone.ID})
		require.NoError(t, err)
	}

	next, err := h.svc.RunAt(ctx, "o", at(4, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, at(4, 2, 9), *next)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, kept.ID, h.sender.sent[0].GeneratorID)
	assert.Equal(t, at(4, 1, 9), *h.gens.get(kept.ID).State.LastRun)
	assert.Nil(t, h.gens.get(gone.ID))
}
