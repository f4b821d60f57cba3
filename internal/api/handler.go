package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/service"
	"stock-service/internal/store"
	"stock-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck is one dependency probed by /ready.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	stocks  *service.StockService
	syncer  *service.StockSyncer
	auditor *service.ConsistencyAuditor
	orders  *service.OrderService
	checks  []ReadinessCheck
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	stocks *service.StockService,
	syncer *service.StockSyncer,
	auditor *service.ConsistencyAuditor,
	orders *service.OrderService,
	checks ...ReadinessCheck,
) *Handler {
	return &Handler{
		stocks:  stocks,
		syncer:  syncer,
		auditor: auditor,
		orders:  orders,
		checks:  checks,
		logger:  util.GetLogger(),
	}
}

type setStockRequest struct {
	Quantity *int64 `json:"quantity" binding:"required,min=0"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity" binding:"required,min=1"`
}

type deltaRequest struct {
	Delta int64 `json:"delta" binding:"required,min=1"`
}

type batchRequest struct {
	ProductIDs []string `json:"product_ids" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
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
	{
		stock := v1.Group("/stock")
		stock.POST("/batch", h.batchGetStock)
		stock.POST("/:productId", h.setStock)
		stock.GET("/:productId", h.getStock)
		stock.DELETE("/:productId", h.deleteStock)
		stock.GET("/:productId/exists", h.stockExists)
		stock.POST("/:productId/increase", h.increaseStock)
		stock.POST("/:productId/decrease", h.decreaseStock)
		stock.POST("/:productId/deduct", h.deductStock)
		stock.POST("/:productId/lock", h.lockStock)
		stock.POST("/:productId/release", h.releaseStock)

		seckill := v1.Group("/seckill/:campaignId/:productId")
		seckill.POST("/stock", h.setSeckillStock)
		seckill.GET("/stock", h.getSeckillStock)
		seckill.POST("/deduct", h.deductSeckillStock)

		v1.POST("/products", h.saveProduct)

		sync := v1.Group("/sync")
		sync.POST("/stock/:productId", h.syncProduct)
		sync.POST("/sweep", h.sweep)
		sync.POST("/consistency/check", h.checkConsistency)
		sync.GET("/status", h.syncStatus)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/pay", h.payOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not ready",
			"failures": failures,
			"time":     time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) setStock(c *gin.Context) {
	var req setStockRequest
	if !bindJSON(c, &req) {
		return
	}

	productID := c.Param("productId")
	if err := h.stocks.SetStock(c.Request.Context(), productID, *req.Quantity); err != nil {
		h.writeError(c, "Failed to set stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "stock": *req.Quantity})
}

func (h *Handler) getStock(c *gin.Context) {
	productID := c.Param("productId")
	n, err := h.stocks.GetStock(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, "Failed to get stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "stock": n})
}

func (h *Handler) deleteStock(c *gin.Context) {
	productID := c.Param("productId")
	if err := h.stocks.DeleteStock(c.Request.Context(), productID); err != nil {
		h.writeError(c, "Failed to delete stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "deleted": true})
}

func (h *Handler) stockExists(c *gin.Context) {
	productID := c.Param("productId")
	exists, err := h.stocks.StockExists(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, "Failed to check stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "exists": exists})
}

func (h *Handler) increaseStock(c *gin.Context) {
	var req deltaRequest
	if !bindJSON(c, &req) {
		return
	}

	productID := c.Param("productId")
	n, err := h.stocks.IncreaseStock(c.Request.Context(), productID, req.Delta)
	if err != nil {
		h.writeError(c, "Failed to increase stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "stock": n})
}

func (h *Handler) decreaseStock(c *gin.Context) {
	var req deltaRequest
	if !bindJSON(c, &req) {
		return
	}

	productID := c.Param("productId")
	n, ok, err := h.stocks.DecreaseStock(c.Request.Context(), productID, req.Delta)
	if err != nil {
		h.writeError(c, "Failed to decrease stock", err)
		return
	}
	c.JSON(successStatus(ok), gin.H{"product_id": productID, "success": ok, "stock": n})
}

func (h *Handler) deductStock(c *gin.Context) {
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}

	productID := c.Param("productId")
	ok, err := h.stocks.DeductStock(c.Request.Context(), productID, req.Quantity)
	if err != nil {
		h.writeError(c, "Failed to deduct stock", err)
		return
	}
	c.JSON(successStatus(ok), gin.H{"product_id": productID, "success": ok})
}

func (h *Handler) lockStock(c *gin.Context) {
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}

	productID := c.Param("productId")
	ok, err := h.stocks.LockStock(c.Request.Context(), productID, req.Quantity)
	if err != nil {
		h.writeError(c, "Failed to lock stock", err)
		return
	}
	c.JSON(successStatus(ok), gin.H{"product_id": productID, "success": ok})
}

func (h *Handler) releaseStock(c *gin.Context) {
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}

	productID := c.Param("productId")
	n, err := h.stocks.ReleaseStock(c.Request.Context(), productID, req.Quantity)
	if err != nil {
		h.writeError(c, "Failed to release stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "stock": n})
}

func (h *Handler) batchGetStock(c *gin.Context) {
	var req batchRequest
	if !bindJSON(c, &req) {
		return
	}

	quantities, err := h.stocks.BatchGetStock(c.Request.Context(), req.ProductIDs)
	if err != nil {
		h.writeError(c, "Failed to get stock", err)
		return
	}

	stocks := make(map[string]int64, len(req.ProductIDs))
	for i, id := range req.ProductIDs {
		stocks[id] = quantities[i]
	}
	c.JSON(http.StatusOK, gin.H{"stocks": stocks})
}

func (h *Handler) setSeckillStock(c *gin.Context) {
	var req setStockRequest
	if !bindJSON(c, &req) {
		return
	}

	campaignID, productID := c.Param("campaignId"), c.Param("productId")
	if err := h.stocks.SetSeckillStock(c.Request.Context(), campaignID, productID, *req.Quantity); err != nil {
		h.writeError(c, "Failed to set seckill stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": campaignID, "product_id": productID, "stock": *req.Quantity})
}

func (h *Handler) getSeckillStock(c *gin.Context) {
	campaignID, productID := c.Param("campaignId"), c.Param("productId")
	n, err := h.stocks.GetSeckillStock(c.Request.Context(), campaignID, productID)
	if err != nil {
		h.writeError(c, "Failed to get seckill stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": campaignID, "product_id": productID, "stock": n})
}

func (h *Handler) deductSeckillStock(c *gin.Context) {
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}

	campaignID, productID := c.Param("campaignId"), c.Param("productId")
	ok, err := h.stocks.DeductSeckillStock(c.Request.Context(), campaignID, productID, req.Quantity)
	if err != nil {
		h.writeError(c, "Failed to deduct seckill stock", err)
		return
	}
	c.JSON(successStatus(ok), gin.H{"campaign_id": campaignID, "product_id": productID, "success": ok})
}

func (h *Handler) saveProduct(c *gin.Context) {
	var product models.Product
	if !bindJSON(c, &product) {
		return
	}

	if err := h.stocks.SaveProduct(c.Request.Context(), &product); err != nil {
		h.writeError(c, "Failed to save product", err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) syncProduct(c *gin.Context) {
	productID := c.Param("productId")
	if err := h.stocks.SyncNow(c.Request.Context(), productID); err != nil {
		h.writeError(c, "Failed to sync stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "synced": true})
}

func (h *Handler) sweep(c *gin.Context) {
	result, err := h.syncer.Sweep(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to sweep stock", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) checkConsistency(c *gin.Context) {
	report, err := h.auditor.Audit(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to check consistency", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.syncer.Status())
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to create order", err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

func (h *Handler) payOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.PayOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to pay order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req cancelRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), orderID, req.Reason)
	if err != nil {
		h.writeError(c, "Failed to cancel order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return 0, false
	}
	return orderID, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func successStatus(ok bool) int {
	if ok {
		return http.StatusOK
	}
	return http.StatusConflict
}

// writeError maps domain errors onto HTTP status codes
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrInvalidOrderState):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
