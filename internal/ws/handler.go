package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/scan"
	"github.com/GriffinCanCode/imgfirewall/internal/service"
)

const (
	// scanTimeout bounds one streamed scan, page fetch included.
	scanTimeout = 3 * time.Minute
	// maxMessageSize bounds inline documents.
	maxMessageSize = 10 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // same policy as the CORS middleware
	},
}

// Scanner is the part of service.Scanner the stream needs.
type Scanner interface {
	Open(ctx context.Context, req service.Request) (*scan.Page, error)
	Watch(ctx context.Context, p *scan.Page, onDecided func(scan.ElementStatus)) (*service.Result, error)
}

// Message is a client request.
type Message struct {
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	HTML    string `json:"html,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	// IncludeHTML adds the annotated document to the complete message.
	IncludeHTML bool `json:"includeHtml,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	scanner Scanner
	logger  *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(scanner Scanner, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		scanner: scanner,
		logger:  logger.Named("ws"),
	}
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	reqCtx := c.Request.Context()

	h.send(conn, gin.H{
		"type":    "system",
		"message": "connected to imgfirewall scan stream",
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "scan":
			h.handleScan(reqCtx, conn, msg)
		case "ping":
			h.send(conn, gin.H{"type": "pong"})
		default:
			h.sendError(conn, "unknown message type")
		}
	}
}

func (h *Handler) handleScan(reqCtx context.Context, conn *websocket.Conn, msg Message) {
	if (msg.URL == "") == (msg.HTML == "") {
		h.sendError(conn, "exactly one of url or html is required")
		return
	}

	ctx, cancel := context.WithTimeout(reqCtx, scanTimeout)
	defer cancel()

	p, err := h.scanner.Open(ctx, service.Request{URL: msg.URL, HTML: msg.HTML, BaseURL: msg.BaseURL})
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.send(conn, gin.H{
		"type":      "scan_start",
		"site":      p.Site(),
		"timestamp": time.Now().Unix(),
	})

	// Decisions arrive on the scan loop; a single writer forwards them so
	// the connection never sees concurrent writes.
	events := make(chan scan.ElementStatus, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for st := range events {
			h.send(conn, gin.H{
				"type":      "element",
				"element":   st,
				"timestamp": time.Now().Unix(),
			})
		}
	}()

	res, err := h.scanner.Watch(ctx, p, func(st scan.ElementStatus) {
		select {
		case events <- st:
		case <-ctx.Done():
		}
	})
	close(events)
	<-forwarded

	if err != nil {
		h.sendError(conn, err.Error())
		return
	}
	if !msg.IncludeHTML {
		trimmed := *res
		trimmed.HTML = ""
		res = &trimmed
	}
	h.send(conn, gin.H{
		"type":      "complete",
		"result":    res,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) send(conn *websocket.Conn, data any) {
	if err := conn.WriteJSON(data); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
	}
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) {
	h.send(conn, gin.H{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}
