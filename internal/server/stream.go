package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// StreamEventDocumentChanged names the SSE event emitted for each
	// document mutation.
	StreamEventDocumentChanged = "document-change"

	streamHeartbeatInterval = 25 * time.Second
)

type streamEventPayload struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// handleStream serves the persistent push channel for one document as a
// server-sent event stream. Each subscriber gets its own buffered delivery;
// a disconnected client simply stops receiving and re-fetches on reconnect.
func (h *httpHandler) handleStream(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	// Ownership gate; the trash is streamable so a restore elsewhere shows up.
	if _, err := h.repository.Get(c.Request.Context(), documentID, requesterID, true); err != nil {
		h.respondError(c, err)
		return
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	subscription := h.broadcaster.Subscribe(documentID.String())
	defer subscription.Cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case message, open := <-subscription.Stream():
			if !open {
				return
			}
			data, err := json.Marshal(streamEventPayload{
				DocumentID: message.DocumentID,
				Title:      message.Title,
				Body:       message.Body,
			})
			if err != nil {
				h.logger.Error("failed to encode stream event", zap.Error(err))
				continue
			}
			if _, err := c.Writer.WriteString("event: " + StreamEventDocumentChanged + "\ndata: " + string(data) + "\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
