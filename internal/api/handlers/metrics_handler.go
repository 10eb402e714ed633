package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

type MetricsHandler struct {
	store *state.MetricsStore
}

func NewMetricsHandler(store *state.MetricsStore) *MetricsHandler {
	return &MetricsHandler{store: store}
}

func (h *MetricsHandler) Current(c *gin.Context) {
	snap, found, err := h.store.Current(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, utils.E(utils.CodeNotFound, "MetricsHandler.Current", "no metrics collected yet", nil))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// History lists the snapshots of one UTC day (YYYY-MM-DD), newest first.
func (h *MetricsHandler) History(c *gin.Context) {
	date, ok := requireParam(c, "MetricsHandler.History", "date")
	if !ok {
		return
	}
	out, err := h.store.History(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
