package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-sync/internal/protocol"
	"messenger-sync/internal/state"
	"messenger-sync/internal/syncengine"
	"messenger-sync/internal/telemetry"
)

// AccountHandler manages account lifecycle endpoints.
type AccountHandler struct {
	engine   *syncengine.Engine
	registry *state.Registry
	factory  protocol.Factory
	audit    *telemetry.AuditEmitter

	// baseCtx outlives individual requests so stream pumps started on
	// login keep running after the login request returns.
	baseCtx context.Context
}

// NewAccountHandler builds an AccountHandler.
func NewAccountHandler(baseCtx context.Context, engine *syncengine.Engine, registry *state.Registry, factory protocol.Factory, audit *telemetry.AuditEmitter) *AccountHandler {
	return &AccountHandler{engine: engine, registry: registry, factory: factory, audit: audit, baseCtx: baseCtx}
}

// ListAccounts returns the registered accounts and the current selection.
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"accounts": h.registry.Accounts(),
		"current":  h.registry.Current(),
	})
}

// AddAccount logs an account into the protocol and starts syncing it.
func (h *AccountHandler) AddAccount(c *gin.Context) {
	var req struct {
		Account string `json:"account" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, ok := h.registry.Store(req.Account); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "account already registered"})
		return
	}

	if err := h.engine.AttachAccount(h.baseCtx, h.factory, req.Account); err != nil {
		if errors.Is(err, state.ErrAccountExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "account already registered"})
			return
		}
		h.audit.Emit(c.Request.Context(), "ERROR", "account login failed", requestIDFromContext(c), req.Account)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to log in account"})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "account logged in", requestIDFromContext(c), req.Account)
	c.JSON(http.StatusCreated, gin.H{"account": req.Account})
}

// RemoveAccount logs an account out, stopping its streams and dropping its
// reactive store.
func (h *AccountHandler) RemoveAccount(c *gin.Context) {
	account := c.Param("account")
	if err := h.registry.RemoveAccount(account); err != nil {
		if errors.Is(err, state.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account})
}

// SelectAccount sets the current account used when no X-Account header is
// sent.
func (h *AccountHandler) SelectAccount(c *gin.Context) {
	account := c.Param("account")
	if err := h.registry.SetCurrent(account); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not registered"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"current": account})
}
