package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/internal/notify"
)

func TestLiveLogsStreamsUntilCompletion(t *testing.T) {
	ts := newTestServer(t)
	bearer := bearerFor(t, "u1", "agent@example.com")

	rec := ts.do(t, http.MethodPost, "/v1/targets", bearer, map[string]string{"name": "example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	target := decodeTarget(t, rec)

	httpSrv := httptest.NewServer(ts.server.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/targets/" + target.ID + "/logs"
	header := http.Header{"Authorization": []string{bearer}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// First frame is the session's init marker.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(first), "example.com")

	publish := func(audit *model.Audit) {
		err := ts.broker.Publish(context.Background(), notify.Event{
			Collection: notify.CollectionAudits,
			Action:     notify.ActionUpdate,
			TargetID:   audit.TargetID,
			Audit:      audit,
		})
		require.NoError(t, err)
	}
	publish(&model.Audit{
		TargetID: target.ID,
		Details:  model.AuditDetails{LogStream: model.JSONStringArray{"probing headers"}},
	})
	publish(&model.Audit{
		TargetID: target.ID,
		Summary:  model.AuditSummary{ExecutiveSummary: "all clear"},
		Details:  model.AuditDetails{LogStream: model.JSONStringArray{"probing headers", "checking tls"}},
	})

	var lines []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		lines = append(lines, string(msg))
		if strings.Contains(string(msg), "STREAM END") {
			break
		}
	}
	require.Contains(t, lines, "probing headers")
	require.Contains(t, lines, "checking tls")
	require.Contains(t, lines[len(lines)-1], "STREAM END")
}

func TestLiveLogsUnknownTarget(t *testing.T) {
	ts := newTestServer(t)
	bearer := bearerFor(t, "u1", "agent@example.com")

	rec := ts.do(t, http.MethodGet, "/v1/targets/no-such-id/logs", bearer, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
