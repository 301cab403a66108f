package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func TestScoreIngestorRecordsValidPayload(t *testing.T) {
	f := setupGradingFixture(t)
	submission := f.seedSubmission(t, 5)
	ctx := context.Background()

	started, err := f.manager.StartGrading(ctx, submission.ID, models.GradingModeAuto, nil)
	require.NoError(t, err)
	entry := f.listEntries(t, started.ID)[0]

	ingestor, err := NewScoreIngestor(f.ledger, nil, nil, "", testLogger())
	require.NoError(t, err)

	payload := fmt.Sprintf(`{"entry_id":%q,"is_correct":true,"score":4,"confidence":0.75,"feedback":"good","details":{"rubric":"A"}}`, entry.ID)
	require.NoError(t, ingestor.Handle(ctx, []byte(payload), "test"))

	stored := f.listEntries(t, started.ID)[0]
	require.True(t, *stored.IsCorrect)
	require.Equal(t, 4, stored.Score)
	require.InDelta(t, 0.75, *stored.Confidence, 1e-9)
	require.Equal(t, "A", stored.Details["rubric"])

	require.NoError(t, ingestor.Handle(ctx, []byte(payload), "test"))
}

func TestScoreIngestorRejectsInvalidPayloads(t *testing.T) {
	f := setupGradingFixture(t)
	ingestor, err := NewScoreIngestor(f.ledger, nil, nil, "", testLogger())
	require.NoError(t, err)

	cases := map[string]string{
		"malformed":          `{"entry_id":`,
		"missing confidence": `{"entry_id":"e-1","is_correct":true,"score":1}`,
		"fractional score":   `{"entry_id":"e-1","is_correct":true,"score":1.5,"confidence":0.5}`,
		"unknown field":      `{"entry_id":"e-1","is_correct":true,"score":1,"confidence":0.5,"grader":"x"}`,
		"confidence above 1": `{"entry_id":"e-1","is_correct":true,"score":1,"confidence":1.5}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			err := ingestor.Handle(context.Background(), []byte(payload), "test")
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	err = ingestor.Handle(context.Background(), []byte(`{"entry_id":"missing","is_correct":true,"score":1,"confidence":0.5}`), "test")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestScoreIngestorConsumesRedisChannel(t *testing.T) {
	f := setupGradingFixture(t)
	submission := f.seedSubmission(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started, err := f.manager.StartGrading(ctx, submission.ID, models.GradingModeAuto, nil)
	require.NoError(t, err)
	entry := f.listEntries(t, started.ID)[0]

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ingestor, err := NewScoreIngestor(f.ledger, client, nil, "gema", testLogger())
	require.NoError(t, err)
	ingestor.Start(ctx)

	require.Eventually(t, func() bool {
		return server.PubSubNumSub("gema:auto-scores")["gema:auto-scores"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload := fmt.Sprintf(`{"entry_id":%q,"is_correct":false,"score":1,"confidence":0.4}`, entry.ID)
	require.NoError(t, client.Publish(ctx, "gema:auto-scores", payload).Err())

	require.Eventually(t, func() bool {
		progress, err := f.ledger.Progress(context.Background(), started.ID)
		return err == nil && progress.Complete()
	}, 2*time.Second, 20*time.Millisecond)
}
