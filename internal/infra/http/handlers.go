package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/ingest"
	"github.com/Spok95/pipe-catalog/internal/order"
	"github.com/Spok95/pipe-catalog/internal/pricing"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

// maxUpload: предел размера xlsx-выгрузки.
const maxUpload = 32 << 20

type Syncer interface {
	Sweep(ctx context.Context, kind staging.Kind) (reconcile.Summary, error)
	ApplyAllPending(ctx context.Context) (int, error)
	Status(ctx context.Context) (reconcile.Status, error)
	AuditLog(ctx context.Context, from, to time.Time) ([]staging.AuditEntry, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (reconcile.CleanupResult, error)
}

type Enqueuer interface {
	EnqueuePrices(ctx context.Context, ds []staging.PriceDelta) (int, error)
	EnqueueRemnants(ctx context.Context, ds []staging.RemnantDelta) (int, error)
	EnqueueStocks(ctx context.Context, ds []staging.StockDelta) (int, error)
	Enqueue(ctx context.Context, b ingest.Batch) (ingest.Counts, error)
}

type Catalog interface {
	CreateProduct(ctx context.Context, p catalog.Product) (*catalog.Product, error)
	CreateStock(ctx context.Context, s catalog.Stock) (*catalog.Stock, error)
	ListStocks(ctx context.Context) ([]catalog.Stock, error)
}

type API struct {
	Catalog   Catalog
	Ingest    Enqueuer
	Sync      Syncer
	Pricing   order.Quoter
	Log       *slog.Logger
	Metrics   bool
	Retention time.Duration
	Location  *time.Location
}

// Router собирает все маршруты сервиса.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), a.accessLog())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	if a.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		cat := api.Group("/catalog")
		cat.POST("/products", a.createProduct)
		cat.POST("/stocks", a.createStock)
		cat.GET("/stocks", a.listStocks)

		st := api.Group("/staging")
		st.POST("/prices", a.enqueuePrices)
		st.POST("/remnants", a.enqueueRemnants)
		st.POST("/stocks", a.enqueueStocks)
		st.POST("/upload", a.upload)

		sync := api.Group("/sync")
		sync.POST("/apply", a.applyAll)
		sync.POST("/apply/:kind", a.applyKind)
		sync.GET("/status", a.status)
		sync.GET("/audit", a.audit)
		sync.GET("/audit.xlsx", a.auditXLSX)
		sync.POST("/cleanup", a.cleanup)

		api.GET("/price", a.price)
		api.POST("/orders/quote", a.quote)
	}
	return r
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.Log.Debug("http request",
			"method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "dur_ms", time.Since(start).Milliseconds())
	}
}

func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, reconcile.ErrSweepInProgress):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		a.Log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperr.ErrInvalidArgument)
}

/* catalog */

type productRequest struct {
	ID       int64           `json:"id" binding:"required,gt=0"`
	Name     string          `json:"name" binding:"required"`
	Gost     string          `json:"gost"`
	Steel    string          `json:"steel"`
	Diameter decimal.Decimal `json:"diameter"`
	Wall     decimal.Decimal `json:"wall"`
	Koef     decimal.Decimal `json:"koef"`
}

func (a *API) createProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, badRequest("decode product: %v", err))
		return
	}
	if req.Koef.IsNegative() {
		a.fail(c, badRequest("koef must not be negative"))
		return
	}
	p, err := a.Catalog.CreateProduct(c.Request.Context(), catalog.Product{
		ID: req.ID, Name: req.Name, Gost: req.Gost, Steel: req.Steel,
		Diameter: req.Diameter, Wall: req.Wall, Koef: req.Koef,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type stockRequest struct {
	ID       int64  `json:"id" binding:"required,gt=0"`
	Name     string `json:"name" binding:"required"`
	City     string `json:"city"`
	Address  string `json:"address"`
	Schedule string `json:"schedule"`
}

func (a *API) createStock(c *gin.Context) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, badRequest("decode stock: %v", err))
		return
	}
	s, err := a.Catalog.CreateStock(c.Request.Context(), catalog.Stock{
		ID: req.ID, Name: req.Name, City: req.City, Address: req.Address, Schedule: req.Schedule,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (a *API) listStocks(c *gin.Context) {
	stocks, err := a.Catalog.ListStocks(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	if stocks == nil {
		stocks = []catalog.Stock{}
	}
	c.JSON(http.StatusOK, stocks)
}

/* staging */

func (a *API) enqueuePrices(c *gin.Context) {
	var ds []staging.PriceDelta
	if err := c.ShouldBindJSON(&ds); err != nil {
		a.fail(c, badRequest("decode price deltas: %v", err))
		return
	}
	n, err := a.Ingest.EnqueuePrices(c.Request.Context(), ds)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": n})
}

func (a *API) enqueueRemnants(c *gin.Context) {
	var ds []staging.RemnantDelta
	if err := c.ShouldBindJSON(&ds); err != nil {
		a.fail(c, badRequest("decode remnant deltas: %v", err))
		return
	}
	n, err := a.Ingest.EnqueueRemnants(c.Request.Context(), ds)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": n})
}

func (a *API) enqueueStocks(c *gin.Context) {
	var ds []staging.StockDelta
	if err := c.ShouldBindJSON(&ds); err != nil {
		a.fail(c, badRequest("decode stock deltas: %v", err))
		return
	}
	n, err := a.Ingest.EnqueueStocks(c.Request.Context(), ds)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": n})
}

func (a *API) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		a.fail(c, badRequest("multipart field \"file\" is required"))
		return
	}
	if fh.Size > maxUpload {
		a.fail(c, badRequest("file is larger than %d bytes", maxUpload))
		return
	}
	f, err := fh.Open()
	if err != nil {
		a.fail(c, err)
		return
	}
	defer func() { _ = f.Close() }()

	b, err := ingest.ParseWorkbook(f)
	if err != nil {
		a.fail(c, err)
		return
	}
	counts, err := a.Ingest.Enqueue(c.Request.Context(), b)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, counts)
}

/* sync */

func (a *API) applyAll(c *gin.Context) {
	n, err := a.Sync.ApplyAllPending(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": n})
}

func (a *API) applyKind(c *gin.Context) {
	kind, err := staging.ParseKind(c.Param("kind"))
	if err != nil {
		a.fail(c, fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err))
		return
	}
	sum, err := a.Sync.Sweep(c.Request.Context(), kind)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (a *API) status(c *gin.Context) {
	st, err := a.Sync.Status(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// auditRange: from/to в RFC3339, по умолчанию последние сутки.
func auditRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, badRequest("from: %v", err)
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, badRequest("to: %v", err)
		}
	}
	return from, to, nil
}

func (a *API) audit(c *gin.Context) {
	from, to, err := auditRange(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	entries, err := a.Sync.AuditLog(c.Request.Context(), from, to)
	if err != nil {
		a.fail(c, err)
		return
	}
	if entries == nil {
		entries = []staging.AuditEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) auditXLSX(c *gin.Context) {
	from, to, err := auditRange(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	entries, err := a.Sync.AuditLog(c.Request.Context(), from, to)
	if err != nil {
		a.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := ingest.WriteAuditWorkbook(&buf, entries, a.Location); err != nil {
		a.fail(c, err)
		return
	}
	name := fmt.Sprintf("audit_%s.xlsx", to.Format("20060102_1504"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.DataFromReader(http.StatusOK, int64(buf.Len()),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", io.Reader(&buf), nil)
}

func (a *API) cleanup(c *gin.Context) {
	olderThan := a.Retention
	if v := c.Query("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			a.fail(c, badRequest("older_than: %v", err))
			return
		}
		olderThan = d
	}
	res, err := a.Sync.Cleanup(c.Request.Context(), olderThan)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

/* pricing */

func (a *API) price(c *gin.Context) {
	req, err := priceRequest(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	res, err := a.Pricing.Calculate(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func priceRequest(c *gin.Context) (pricing.Request, error) {
	var req pricing.Request
	var err error
	if req.ProductID, err = strconv.ParseInt(c.Query("product_id"), 10, 64); err != nil {
		return req, badRequest("product_id: %q", c.Query("product_id"))
	}
	if req.StockID, err = strconv.ParseInt(c.Query("stock_id"), 10, 64); err != nil {
		return req, badRequest("stock_id: %q", c.Query("stock_id"))
	}
	if req.Quantity, err = decimal.NewFromString(c.Query("qty")); err != nil {
		return req, badRequest("qty: %q", c.Query("qty"))
	}
	if req.Unit, err = pricing.ParseUnit(c.DefaultQuery("unit", "m")); err != nil {
		return req, err
	}
	if v := c.Query("convert"); v != "" {
		if req.Convert, err = strconv.ParseBool(v); err != nil {
			return req, badRequest("convert: %q", v)
		}
	}
	return req, nil
}

type quoteRequest struct {
	Lines []order.Line `json:"lines"`
}

func (a *API) quote(c *gin.Context) {
	var body quoteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		a.fail(c, badRequest("decode cart: %v", err))
		return
	}
	var cart order.Cart
	for _, l := range body.Lines {
		if err := cart.Add(l); err != nil {
			a.fail(c, err)
			return
		}
	}
	o, err := order.Quote(c.Request.Context(), a.Pricing, cart.Lines)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
