package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
	"stockdata/internal/service"
)

type handlers struct {
	guard   *service.Guard
	manager *service.SourceManager
}

func (h *handlers) register(group *gin.RouterGroup) {
	group.GET("/sources", h.listSources)
	group.GET("/sources/health", h.sourceHealth)
	group.GET("/sources/errors", h.sourceErrors)
	group.GET("/sources/default", h.getDefault)
	group.PUT("/sources/default", h.setDefault)
	group.GET("/history", h.history)
	group.GET("/current", h.current)
	group.GET("/current/batch", h.batch)
	group.DELETE("/cache", h.clearCache)
}

func (h *handlers) listSources(c *gin.Context) {
	if truthy(c.Query("all")) {
		c.JSON(http.StatusOK, gin.H{"sources": h.manager.Sources(), "default": h.manager.DefaultSource()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": h.manager.AvailableSources(), "default": h.manager.DefaultSource()})
}

func (h *handlers) sourceHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"health": h.manager.HealthCheckAll(c.Request.Context())})
}

func (h *handlers) sourceErrors(c *gin.Context) {
	out := make(map[marketdata.ProviderName]*string)
	for name, err := range h.manager.SourceErrors() {
		if err == nil {
			out[name] = nil
			continue
		}
		msg := err.Error()
		out[name] = &msg
	}
	c.JSON(http.StatusOK, gin.H{"errors": out})
}

func (h *handlers) getDefault(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"default": h.manager.DefaultSource()})
}

type setDefaultRequest struct {
	Source string `json:"source" binding:"required"`
}

func (h *handlers) setDefault(c *gin.Context) {
	var req setDefaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source 必填"})
		return
	}
	if err := h.manager.SetDefaultSource(marketdata.ProviderName(req.Source)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"default": h.manager.DefaultSource()})
}

func (h *handlers) history(c *gin.Context) {
	params := marketdata.HistoricalDataParams{
		Symbol:     strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		StartDate:  c.Query("start"),
		EndDate:    c.Query("end"),
		Resolution: marketdata.Resolution(c.DefaultQuery("resolution", string(marketdata.ResolutionDaily))),
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		params.Page = page
	}

	series, err := h.guard.Historical(c.Request.Context(), params, source(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if truthy(c.Query("legacy")) {
		c.JSON(http.StatusOK, normalize.ToLegacy(series))
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": params.Symbol, "data": series})
}

func (h *handlers) current(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	rec, err := h.guard.Current(c.Request.Context(), symbol, resolution(c), source(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if truthy(c.Query("legacy")) {
		c.JSON(http.StatusOK, normalize.ToLegacySingle(rec))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) batch(c *gin.Context) {
	symbols := splitSymbols(c.Query("symbols"))
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols 必填"})
		return
	}
	out, err := h.guard.Batch(c.Request.Context(), symbols, resolution(c), source(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if truthy(c.Query("legacy")) {
		c.JSON(http.StatusOK, normalize.ToLegacy(out))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *handlers) clearCache(c *gin.Context) {
	h.manager.ClearCache()
	c.Status(http.StatusNoContent)
}

func source(c *gin.Context) marketdata.ProviderName {
	return marketdata.ProviderName(strings.ToUpper(strings.TrimSpace(c.Query("source"))))
}

func resolution(c *gin.Context) marketdata.Resolution {
	return marketdata.Resolution(c.DefaultQuery("resolution", string(marketdata.ResolutionDaily)))
}

func splitSymbols(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func writeError(c *gin.Context, err error) {
	var failed *marketdata.AllSourcesFailedError
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrSourceUnavailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.As(err, &failed):
		status := http.StatusBadGateway
		if onlyNoData(failed) {
			status = http.StatusNotFound
		}
		sources := make(map[marketdata.ProviderName]string, len(failed.Errors))
		for name, e := range failed.Errors {
			sources[name] = e.Error()
		}
		c.JSON(status, gin.H{"error": err.Error(), "sources": sources})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func onlyNoData(failed *marketdata.AllSourcesFailedError) bool {
	if len(failed.Errors) == 0 {
		return false
	}
	for _, e := range failed.Errors {
		if !errors.Is(e, marketdata.ErrNoData) {
			return false
		}
	}
	return true
}
