package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// multipart framing allowance on top of the proof size limit
const multipartOverhead = 64 << 10

// Handler contains HTTP handlers
type Handler struct {
	svc           Services
	proofMaxBytes int64
	checks        map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, proofMaxBytes int64) *Handler {
	return &Handler{
		svc:           svc,
		proofMaxBytes: proofMaxBytes,
		checks:        make(map[string]ReadinessCheck),
	}
}

// WithReadinessCheck adds a dependency probed by /ready
func (h *Handler) WithReadinessCheck(name string, check ReadinessCheck) *Handler {
	h.checks[name] = check
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", principalMiddleware())
	{
		v1.GET("/banks", h.listBanks)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:productID", h.setCartItem)
		v1.DELETE("/cart/items/:productID", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", h.checkout)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/proof", h.submitProof)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		admin := v1.Group("/admin", adminOnly())
		{
			admin.GET("/orders", h.listOrders)
			admin.GET("/orders/:id", h.getOrder)
			admin.POST("/orders/:id/approve", h.approveOrder)
			admin.POST("/orders/:id/reject", h.rejectOrder)
			admin.POST("/orders/:id/ship", h.shipOrder)
			admin.POST("/orders/:id/deliver", h.deliverOrder)
			admin.GET("/stats", h.stats)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listBanks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"banks": h.svc.Checkout.Banks()})
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.svc.Cart.GetCart(c.Request.Context(), principal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// addItemRequest adds one unit when quantity is omitted
type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  *int      `json:"quantity"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := h.svc.Cart.AddItem(c.Request.Context(), principal(c), req.ProductID, quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) setCartItem(c *gin.Context) {
	productID, ok := uuidParam(c, "productID")
	if !ok {
		return
	}
	var req setQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	cart, err := h.svc.Cart.SetQuantity(c.Request.Context(), principal(c), productID, *req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, ok := uuidParam(c, "productID")
	if !ok {
		return
	}
	cart, err := h.svc.Cart.RemoveItem(c.Request.Context(), principal(c), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.svc.Cart.Clear(c.Request.Context(), principal(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// checkout compiles the caller's cart into an order
func (h *Handler) checkout(c *gin.Context) {
	var input service.CheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}
	input.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.svc.Checkout.Compile(c.Request.Context(), principal(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	var filter service.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, "invalid query", err)
		return
	}

	orders, err := h.svc.Review.ListOrders(c.Request.Context(), principal(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	details, err := h.svc.Review.GetOrder(c.Request.Context(), principal(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// submitProof accepts a multipart upload in the "file" field
func (h *Handler) submitProof(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if h.proofMaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.proofMaxBytes+multipartOverhead)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apperr.Newf(apperr.CodeValidation, "payment proof exceeds %d bytes", h.proofMaxBytes))
			return
		}
		badRequest(c, "multipart field \"file\" is required", err)
		return
	}

	file, err := header.Open()
	if err != nil {
		badRequest(c, "unreadable upload", err)
		return
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.proofMaxBytes > 0 {
		// one extra byte lets the service see the upload is oversized
		reader = io.LimitReader(file, h.proofMaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		badRequest(c, "unreadable upload", err)
		return
	}

	proof, err := h.svc.Payments.SubmitProof(c.Request.Context(), principal(c), orderID, service.Artifact{
		FileName: header.Filename,
		Data:     data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proof)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var input service.DecisionInput
	if !bindOptionalJSON(c, &input) {
		return
	}
	h.respondOrder(c)(h.svc.Review.Cancel(c.Request.Context(), principal(c), orderID, input))
}

func (h *Handler) approveOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var input service.ApproveInput
	if !bindOptionalJSON(c, &input) {
		return
	}
	h.respondOrder(c)(h.svc.Review.Approve(c.Request.Context(), principal(c), orderID, input))
}

func (h *Handler) rejectOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var input service.DecisionInput
	if !bindOptionalJSON(c, &input) {
		return
	}
	h.respondOrder(c)(h.svc.Review.Reject(c.Request.Context(), principal(c), orderID, input))
}

func (h *Handler) shipOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	h.respondOrder(c)(h.svc.Review.Ship(c.Request.Context(), principal(c), orderID))
}

func (h *Handler) deliverOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	h.respondOrder(c)(h.svc.Review.Deliver(c.Request.Context(), principal(c), orderID))
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.Reports.Stats(c.Request.Context(), principal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) respondOrder(c *gin.Context) func(any, error) {
	return func(order any, err error) {
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, apperr.Newf(apperr.CodeValidation, "invalid %s", name).
			WithDetails(map[string]string{name: "must be a UUID"}))
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON decodes the body when present; an empty body is allowed
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body", err)
		return false
	}
	return true
}
