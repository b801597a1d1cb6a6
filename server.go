package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// importer is satisfied by *Pipeline.
type importer interface {
	Import(ctx context.Context, pageID string) (*Article, error)
}

// ImportHandler serves the import endpoint.
type ImportHandler struct {
	importer importer
	stats    *Stats
	log      logrus.FieldLogger
}

func NewImportHandler(imp importer, stats *Stats, log logrus.FieldLogger) *ImportHandler {
	return &ImportHandler{importer: imp, stats: stats, log: log}
}

// newRouter wires the routes onto a gin engine without gin's default logger.
func newRouter(h *ImportHandler, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", h.Health)
	router.GET("/api/:pageId", h.ImportPage)
	return router
}

func (h *ImportHandler) ImportPage(c *gin.Context) {
	pageID := c.Param("pageId")

	if _, err := h.importer.Import(c.Request.Context(), pageID); err != nil {
		status, msg := statusFor(err)
		h.log.WithFields(logrus.Fields{
			"page_id":    pageID,
			"error_kind": errorKind(err).String(),
			"error":      err.Error(),
		}).Error("import failed")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "article saved",
	})
}

func (h *ImportHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "quire",
		"stats":   h.stats.Snapshot(),
	})
}

// statusFor maps an import error to the response status and message.
func statusFor(err error) (int, string) {
	var pe *PersistError
	if errors.As(err, &pe) {
		return http.StatusInternalServerError, "error saving to database"
	}
	switch errorKind(err) {
	case KindMissingTitle:
		return http.StatusBadRequest, errMissingTitle.Error()
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout, "timed out fetching page"
	}
	return http.StatusInternalServerError, "error processing page"
}
