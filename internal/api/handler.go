package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckoutService runs checkout attempts.
type CheckoutService interface {
	Checkout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResult, error)
}

// OrderService reads and manages existing orders.
type OrderService interface {
	GetOrder(ctx context.Context, orderID, actorUserID int64, admin bool) (*service.OrderDetail, error)
	ListOrders(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int, error)
	Cancel(ctx context.Context, orderID, actorUserID int64, admin bool) (*models.Order, error)
	AdvanceStatus(ctx context.Context, orderID int64, newStatus string) (*models.Order, error)
}

// Handler contains HTTP handlers
type Handler struct {
	checkout CheckoutService
	orders   OrderService
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout CheckoutService, orders OrderService) *Handler {
	return &Handler{
		checkout: checkout,
		orders:   orders,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(identityMiddleware())
	{
		v1.POST("/checkout", h.doCheckout)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type paymentRequest struct {
	Method      string `json:"method" binding:"required"`
	CardNumber  string `json:"card_number" binding:"required"`
	ExpiryMonth int    `json:"expiry_month" binding:"required"`
	ExpiryYear  int    `json:"expiry_year" binding:"required"`
	CVV         string `json:"cvv" binding:"required"`
}

type checkoutRequest struct {
	ShippingAddress string         `json:"shipping_address" binding:"required"`
	Payment         paymentRequest `json:"payment" binding:"required"`
}

// doCheckout handles POST /api/v1/checkout
func (h *Handler) doCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userID, _ := currentUser(c)

	result, err := h.checkout.Checkout(c.Request.Context(), &service.CheckoutRequest{
		UserID:          userID,
		ShippingAddress: req.ShippingAddress,
		Payment: service.CardDetails{
			Method:      req.Payment.Method,
			Number:      req.Payment.CardNumber,
			ExpiryMonth: req.Payment.ExpiryMonth,
			ExpiryYear:  req.Payment.ExpiryYear,
			CVV:         req.Payment.CVV,
		},
	})
	if err != nil {
		h.writeCheckoutError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":          result.Order.ID,
		"status":            result.Order.Status,
		"total_amount":      result.Order.TotalAmount,
		"payment_reference": result.PaymentRef,
	})
}

// getOrder handles GET /api/v1/orders/:id
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	userID, admin := currentUser(c)

	detail, err := h.orders.GetOrder(c.Request.Context(), orderID, userID, admin)
	if err != nil {
		// Another user's order reads as absent, not forbidden.
		if errors.Is(err, store.ErrOrderNotFound) || errors.Is(err, service.ErrNotOrderOwner) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// listOrders handles GET /api/v1/orders
func (h *Handler) listOrders(c *gin.Context) {
	userID, _ := currentUser(c)

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 10
	}
	status := c.Query("status")
	if status != "" && !models.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	orders, total, err := h.orders.ListOrders(c.Request.Context(), userID, status, limit, (page-1)*limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}

	totalPages := (total + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"pagination": gin.H{
			"current_page": page,
			"total_pages":  totalPages,
			"total_count":  total,
			"limit":        limit,
		},
	})
}

// cancelOrder handles POST /api/v1/orders/:id/cancel
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	userID, admin := currentUser(c)

	order, err := h.orders.Cancel(c.Request.Context(), orderID, userID, admin)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		case errors.Is(err, service.ErrNotOrderOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed to cancel this order"})
		default:
			var transitionErr *models.InvalidTransitionError
			if errors.As(err, &transitionErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": transitionErr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel order"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order cancelled",
		"order":   order,
	})
}

type statusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

// updateOrderStatus handles PUT /api/v1/orders/:id/status (fulfillment/admin)
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	if _, admin := currentUser(c); !admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}

	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	order, err := h.orders.AdvanceStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		var transitionErr *models.InvalidTransitionError
		var validationErr *service.ValidationError
		if errors.As(err, &transitionErr) || errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// writeCheckoutError maps checkout outcomes to HTTP statuses: business
// outcomes are 400s, only a post-payment commit failure is a 500.
func (h *Handler) writeCheckoutError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var stockErr *service.InsufficientStockError
	var declinedErr *service.PaymentDeclinedError
	var commitErr *service.PostPaymentCommitError

	switch {
	case errors.Is(err, service.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty", "kind": "empty_cart"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "kind": "validation"})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    stockErr.Error(),
			"kind":     "insufficient_stock",
			"products": stockErr.Products,
		})
	case errors.As(err, &declinedErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  declinedErr.Error(),
			"kind":   "payment_declined",
			"reason": declinedErr.Reason,
		})
	case errors.As(err, &commitErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "Order commit failed after payment capture; support has been notified",
			"kind":              "post_payment_commit_failure",
			"recovery_id":       commitErr.RecoveryID,
			"payment_reference": commitErr.PaymentRef,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Checkout failed"})
	}
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return orderID, true
}
