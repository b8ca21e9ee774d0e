package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/followup/internal/models"
)

func followUpsOf(genIDs ...string) []*models.FollowUp {
	out := make([]*models.FollowUp, len(genIDs))
	for i, g := range genIDs {
		out[i] = &models.FollowUp{
			ID:          fmt.Sprintf("%s-f%d", g, i),
			GeneratorID: g,
			OwnerID:     "owner",
			Date:        time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC),
			MessageID:   g + "-m",
			DataID:      g + "-d",
		}
	}
	return out
}

func TestGeneratorIDs(t *testing.T) {
	assert.Equal(t, []string{"g1", "g2"}, generatorIDs(followUpsOf("g1", "g2", "g1")))
	assert.Nil(t, generatorIDs(nil))
}

func TestKeepLiveSkipsMissingGenerators(t *testing.T) {
	r := &FollowUpRepository{log: zerolog.Nop()}
	fups := followUpsOf("g1", "gone", "g2", "gone")

	kept := r.keepLive(fups, []string{"g1", "g2"})
	require.Len(t, kept, 2)
	assert.Same(t, fups[0], kept[0])
	assert.Same(t, fups[2], kept[1])

	assert.Empty(t, r.keepLive(fups, nil))
}

func TestQueueFollowUps(t *testing.T) {
	fups := followUpsOf("g1", "g2")
	batch := queueFollowUps(fups)

	require.Equal(t, 2, batch.Len())
	for i, q := range batch.QueuedQueries {
		assert.Contains(t, q.SQL, "INSERT INTO followup")
		f := fups[i]
		assert.Equal(t, []any{f.ID, f.GeneratorID, f.OwnerID, f.Date, f.MessageID, f.DataID}, q.Arguments)
	}
}
