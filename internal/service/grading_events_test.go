package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
)

func receiveEvent(t *testing.T, ch <-chan dto.GradingEventResponse) dto.GradingEventResponse {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for grading event")
	}
	return dto.GradingEventResponse{}
}

func TestGradingEventBusDeliversLocallyBySubmission(t *testing.T) {
	bus := NewGradingEventBus(nil, "", nil, testLogger())

	events, cleanup := bus.Subscribe("sub-1")
	other, cleanupOther := bus.Subscribe("sub-2")
	defer cleanupOther()

	bus.Publish(context.Background(), GradingEvent{
		Type:         EventSessionCompleted,
		SubmissionID: "sub-1",
		SessionID:    "session-1",
		Version:      2,
		Status:       models.SessionStatusCompleted,
		Data:         map[string]interface{}{"total_score": 10},
	})

	event := receiveEvent(t, events)
	require.Equal(t, EventSessionCompleted, event.Type)
	require.Equal(t, "session-1", event.SessionID)
	require.Equal(t, 2, event.Version)
	require.Equal(t, "completed", event.Status)
	require.False(t, event.OccurredAt.IsZero())

	select {
	case unexpected := <-other:
		t.Fatalf("unexpected event for other submission: %+v", unexpected)
	default:
	}

	cleanup()
	cleanup()
	_, open := <-events
	require.False(t, open)
}

func TestGradingEventBusFansOutAcrossNodesThroughRedis(t *testing.T) {
	server := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	nodeA := NewGradingEventBus(newClient(), "gema", nil, testLogger())
	nodeB := NewGradingEventBus(newClient(), "gema", nil, testLogger())
	nodeA.Start(ctx)
	nodeB.Start(ctx)

	require.Eventually(t, func() bool {
		return server.PubSubNumSub("gema:grading-events")["gema:grading-events"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	local, cleanupLocal := nodeA.Subscribe("sub-1")
	defer cleanupLocal()
	remote, cleanupRemote := nodeB.Subscribe("sub-1")
	defer cleanupRemote()

	nodeA.Publish(ctx, GradingEvent{
		Type:         EventSessionRegraded,
		SubmissionID: "sub-1",
		SessionID:    "session-1",
		Version:      1,
		Status:       models.SessionStatusRegraded,
	})

	require.Equal(t, EventSessionRegraded, receiveEvent(t, local).Type)
	require.Equal(t, "session-1", receiveEvent(t, remote).SessionID)

	select {
	case duplicate := <-local:
		t.Fatalf("origin node received its own event twice: %+v", duplicate)
	case <-time.After(100 * time.Millisecond):
	}
}
