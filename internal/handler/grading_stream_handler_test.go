package handler_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/service"
)

func startFiberServer(t *testing.T, app *fiber.App) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
	})

	return "http://" + listener.Addr().String()
}

func TestGradingStreamDeliversSubmissionEvents(t *testing.T) {
	a := setupGradingApp(t)
	baseURL := startFiberServer(t, a.app)

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v2/grading/submissions/sub-1/stream"
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{
		"X-Test-User": {"teacher-1"},
		"X-Test-Role": {"teacher"},
	})
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// The subscription is registered once the upgrade finishes; retry until it lands.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	received := make(chan dto.GradingEventResponse, 1)
	go func() {
		var event dto.GradingEventResponse
		if err := conn.ReadJSON(&event); err == nil {
			received <- event
		}
	}()

	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		a.events.Publish(context.Background(), service.GradingEvent{
			Type:         service.EventSessionCompleted,
			SubmissionID: "sub-1",
			SessionID:    "session-1",
			Version:      1,
			Status:       models.SessionStatusCompleted,
		})
		select {
		case event := <-received:
			require.Equal(t, service.EventSessionCompleted, event.Type)
			require.Equal(t, "session-1", event.SessionID)
			require.Equal(t, "completed", event.Status)
			return
		case <-deadline:
			t.Fatal("no grading event received over websocket")
		case <-ticker.C:
		}
	}
}

func TestGradingStreamRequiresUpgradeAndUser(t *testing.T) {
	a := setupGradingApp(t)
	baseURL := startFiberServer(t, a.app)

	resp, err := http.Get(baseURL + "/api/v2/grading/submissions/sub-1/stream")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v2/grading/submissions/sub-1/stream"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
