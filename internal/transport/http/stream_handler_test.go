package httptransport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inboxcast/internal/domain"
)

type wsFrame struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn, skipPing bool) wsFrame {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var frame wsFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if skipPing && frame.Event == string(domain.EventPing) {
			continue
		}
		return frame
	}
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("未知收件箱返回404", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/emails/unknown/ws", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("实时推送与心跳", func(t *testing.T) {
		info := ts.createInbox(t)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/emails/"+info.ID+"/ws", nil)
		require.NoError(t, err)
		defer conn.Close()

		connected := readFrame(t, conn, true)
		require.Equal(t, string(domain.EventConnected), connected.Event)
		var cf domain.ConnectedFrame
		require.NoError(t, json.Unmarshal(connected.Data, &cf))
		assert.Equal(t, info.ID, cf.InboxID)
		assert.Equal(t, domain.ModeBacklog, cf.Mode)

		w, _ := ts.do(t, http.MethodPost, "/emails/"+info.ID, `{"from":"a@example.com","subject":"hello","body":"code 482913"}`)
		require.Equal(t, http.StatusCreated, w.Code)

		live := readFrame(t, conn, true)
		require.Equal(t, string(domain.EventEmail), live.Event)
		assert.Equal(t, uint64(1), live.ID)
		assert.Contains(t, string(live.Data), `"hello"`)

		// 默认 PingHandler 会自动回复 pong，连接应在多个心跳周期后保持打开
		assert.Equal(t, string(domain.EventPing), readFrame(t, conn, false).Event)
		assert.Equal(t, string(domain.EventPing), readFrame(t, conn, false).Event)
		assert.Equal(t, 1, ts.hub.Registry().Count(info.ID))
	})

	t.Run("删除收件箱关闭连接", func(t *testing.T) {
		info := ts.createInbox(t)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/emails/"+info.ID+"/ws", nil)
		require.NoError(t, err)
		defer conn.Close()
		require.Equal(t, string(domain.EventConnected), readFrame(t, conn, true).Event)

		w, _ := ts.do(t, http.MethodDelete, "/inbox/"+info.ID, "")
		require.Equal(t, http.StatusOK, w.Code)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			if _, _, err = conn.ReadMessage(); err != nil {
				break
			}
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
		assert.Equal(t, 0, ts.hub.Registry().Count(info.ID))
	})
}
