package apihttp

import (
	"context"
	"io"
	"net/http"
	"time"

	"candlelab/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	keepAliveInterval = 15 * time.Second
	writeWait         = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// stream 以 SSE 推送：先发送全部已知任务的快照，再推送实时事件，
// 直到客户端断开或进程关闭。
func (t *taskRoutes[P, R]) stream(c *gin.Context) {
	events := t.engine.Subscribe(c.Request.Context())
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// 先把响应头刷给客户端，空注册表时连接也能立即建立。
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(keepAliveInterval)
	defer heartbeat.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return true
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

// ws 与 stream 语义相同，每条消息是一个任务快照 JSON。
func (t *taskRoutes[P, R]) ws(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[http] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := t.engine.Subscribe(ctx)
	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
