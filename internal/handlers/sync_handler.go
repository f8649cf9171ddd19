package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"jefe/internal/logging"
	"jefe/internal/services"
	"jefe/pkg/types"
)

type SyncHandler struct {
	svc     *services.SyncService
	logger  *logging.Logger
	version string
}

func NewSyncHandler(svc *services.SyncService, logger *logging.Logger, version string) *SyncHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SyncHandler{svc: svc, logger: logger, version: version}
}

func (h *SyncHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, types.HealthResponse{Status: "healthy", Version: h.version})
}

func (h *SyncHandler) Push(c *gin.Context) {
	var body types.PushRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid json body"})
		return
	}
	resp, err := h.svc.Push(c.Request.Context(), body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Pull accepts an empty body as "everything, all kinds".
func (h *SyncHandler) Pull(c *gin.Context) {
	var body types.PullRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid json body"})
		return
	}
	resp, err := h.svc.Pull(c.Request.Context(), body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SyncHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidEntityType):
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
	default:
		h.logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "internal server error"})
	}
}
