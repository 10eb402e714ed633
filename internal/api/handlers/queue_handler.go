package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/state"
)

type QueueHandler struct {
	queue *state.Queue
}

func NewQueueHandler(queue *state.Queue) *QueueHandler {
	return &QueueHandler{queue: queue}
}

type QueueStatus struct {
	Length int64             `json:"length"`
	Head   *models.QueueItem `json:"head,omitempty"`
}

func (h *QueueHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	n, err := h.queue.Len(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	head, _, err := h.queue.Peek(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, QueueStatus{Length: n, Head: head})
}

func (h *QueueHandler) Clear(c *gin.Context) {
	if err := h.queue.Clear(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
