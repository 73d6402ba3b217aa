package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/support-agent/agent/contract"
	storex "github.com/tanpawarit/support-agent/agent/store"
)

type handlers struct {
	store Store
	chat  contractx.ChatService
	probe func(ctx context.Context) error
}

func detail(c *gin.Context, status int, format string, args ...any) {
	c.AbortWithStatusJSON(status, gin.H{"detail": fmt.Sprintf(format, args...)})
}

func (h *handlers) internal(c *gin.Context, err error) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	detail(c, http.StatusInternalServerError, "internal error")
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "healthy", "service": "support-agent"}
	if c.Query("deep") == "1" && h.probe != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := h.probe(ctx); err != nil {
			body["status"] = "degraded"
			body["llm"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["llm"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *handlers) chatTurn(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "message is required")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		detail(c, http.StatusBadRequest, "message is required")
		return
	}
	if n := utf8.RuneCountInString(msg); n > MaxMessageLength {
		detail(c, http.StatusBadRequest, "message is too long (%d characters, max %d)", n, MaxMessageLength)
		return
	}

	res, err := h.chat.HandleChatTurn(c.Request.Context(), msg)
	if res.ToolCalls == nil {
		res.ToolCalls = []contractx.ToolInvocation{}
	}
	log := zerolog.Ctx(c.Request.Context())

	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, contractx.ErrTurnLimitExceeded):
		log.Warn().Err(err).Int("tool_calls", len(res.ToolCalls)).Msg("chat truncated")
		c.JSON(http.StatusOK, res)
	case errors.Is(err, contractx.ErrValidation):
		detail(c, http.StatusBadRequest, "%v", err)
	case errors.Is(err, contractx.ErrMissingCredential):
		log.Error().Err(err).Msg("chat unavailable")
		detail(c, http.StatusServiceUnavailable, "Chat is unavailable: the LLM provider credential is not configured.")
	default:
		log.Error().Err(err).Int("tool_calls", len(res.ToolCalls)).Msg("chat failed")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"detail":     "The assistant could not complete this request. Any actions already taken are listed in tool_calls.",
			"tool_calls": res.ToolCalls,
		})
	}
}

func (h *handlers) listCustomers(c *gin.Context) {
	customers, err := h.store.ListCustomers(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, customers)
}

func (h *handlers) getCustomer(c *gin.Context) {
	id := c.Param("id")
	customer, found, err := h.store.GetCustomer(c.Request.Context(), id)
	if err != nil {
		h.internal(c, err)
		return
	}
	if !found {
		detail(c, http.StatusNotFound, "Customer %s not found", id)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type searchRequest struct {
	Key   string `json:"key" binding:"required,oneof=email phone username"`
	Value string `json:"value" binding:"required"`
}

func (h *handlers) searchCustomer(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "key must be one of email, phone, username and value is required")
		return
	}
	customer, found, err := h.store.FindCustomer(c.Request.Context(), storex.SearchField(req.Key), req.Value)
	if err != nil {
		h.internal(c, err)
		return
	}
	if !found {
		detail(c, http.StatusNotFound, "No customer found with %s=%s", req.Key, req.Value)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type updateRequest struct {
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

func (h *handlers) updateCustomer(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	id := c.Param("id")
	res, err := h.store.UpdateCustomerContact(c.Request.Context(), id, storex.ContactUpdate{Email: req.Email, Phone: req.Phone})
	if err != nil {
		h.internal(c, err)
		return
	}
	switch res.Outcome {
	case storex.OutcomeOK:
		c.JSON(http.StatusOK, res.Customer)
	case storex.OutcomeNotFound:
		detail(c, http.StatusNotFound, "Customer %s not found", id)
	default:
		detail(c, http.StatusBadRequest, "%s", res.Reason)
	}
}

func (h *handlers) customerOrders(c *gin.Context) {
	id := c.Param("id")
	co, found, err := h.store.GetCustomerWithOrders(c.Request.Context(), storex.LookupCustomerID, id)
	if err != nil {
		h.internal(c, err)
		return
	}
	if !found {
		detail(c, http.StatusNotFound, "Customer %s not found", id)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (h *handlers) listOrders(c *gin.Context) {
	var filter *storex.OrderStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := storex.ParseOrderStatus(raw)
		if err != nil {
			detail(c, http.StatusBadRequest, "%v", err)
			return
		}
		filter = &status
	}
	orders, err := h.store.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *handlers) getOrder(c *gin.Context) {
	id := c.Param("id")
	order, found, err := h.store.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.internal(c, err)
		return
	}
	if !found {
		detail(c, http.StatusNotFound, "Order %s not found", id)
		return
	}
	c.JSON(http.StatusOK, order)
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *handlers) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	res, err := h.store.CancelOrder(c.Request.Context(), id)
	if err != nil {
		h.internal(c, err)
		return
	}
	switch res.Outcome {
	case storex.OutcomeOK:
		c.JSON(http.StatusOK, cancelResponse{Success: true, Message: fmt.Sprintf("Order %s cancelled successfully", id)})
	case storex.OutcomeNotFound:
		detail(c, http.StatusNotFound, "Order %s not found", id)
	default:
		detail(c, http.StatusBadRequest, "%s", res.Reason)
	}
}
