package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartsmeta.app/bot/internal/estimate"
)

type StatusHandler struct {
	version string
	rates   estimate.Rates
	formats []string
}

func NewStatusHandler(version string, rates estimate.Rates, formats []string) *StatusHandler {
	return &StatusHandler{version: version, rates: rates, formats: formats}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"formats": h.formats,
	})
}

// Rates returns the default rate table in display order.
func (h *StatusHandler) Rates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rates": h.rates})
}
