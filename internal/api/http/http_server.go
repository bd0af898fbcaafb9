package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/olyamironova/quote-engine/internal/api/dto"
	"github.com/olyamironova/quote-engine/internal/api/ws"
	"github.com/olyamironova/quote-engine/internal/core"
	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/middleware"
	"github.com/olyamironova/quote-engine/internal/ratelimit"
)

const BasePath = "/api/v1/quotes"

// Options carries the optional parts of the HTTP surface.
type Options struct {
	// Hub serves /ws/subscribe when set.
	Hub *ws.Hub

	// Keys enables the exchange key routes when set.
	Keys *core.Keys

	// TrustedProxies may set X-Forwarded-For. Empty means the client
	// address is always the TCP peer.
	TrustedProxies []string

	// TrustClientHeader keys the rate limit on X-Client-ID.
	TrustClientHeader bool
}

type HTTPServer struct {
	Eng     *core.Engine
	limiter *ratelimit.Limiter
	opts    Options
	log     *logger.Log
	srv     *http.Server
}

func NewHTTPServer(eng *core.Engine, limiter *ratelimit.Limiter, opts Options, log *logger.Log) *HTTPServer {
	s := &HTTPServer{Eng: eng, limiter: limiter, opts: opts, log: log}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router wires every route. Everything except /healthz is rate limited.
func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(s.opts.TrustedProxies); err != nil {
		// config validation rejects bad entries; fall back to trusting none
		s.log.WithComponent("http").WithError(err).Error("invalid trusted proxies, ignoring forwarded headers")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), middleware.RequestLogger(s.log))

	r.GET("/healthz", s.health)

	limited := r.Group("/", middleware.RateLimit(s.limiter, s.opts.TrustClientHeader, s.log))
	if s.opts.Hub != nil {
		limited.GET("/ws/subscribe/:exchange_name/:symbol", s.opts.Hub.Serve)
	}

	q := limited.Group(BasePath)
	q.GET("/ticker/:symbol", s.ticker)
	q.GET("/historical/:symbol", s.historical)
	q.GET("/aggregated/:symbol", s.aggregated)
	q.GET("/order_book/:exchange_name/:symbol", s.orderBook)
	q.GET("/ticker_depth/:exchange_name/:symbol", s.tickerDepth)
	q.GET("/markets/:exchange_name", s.markets)
	q.GET("/exchanges", s.exchanges)
	if s.opts.Keys != nil {
		q.POST("/exchange_keys", s.addKey)
		q.POST("/exchange_keys/bulk", s.addKeys)
	}
	return r
}

// Run blocks until the server stops. A clean Shutdown returns nil.
func (s *HTTPServer) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.WithComponent("http").WithFields(logger.Fields{"addr": lis.Addr().String()}).Info("http server listening")
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// statusFor maps domain errors onto HTTP status codes. A single exchange
// that fails or has no data is a 404, not a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExchangeUnavailable):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.WithComponent("http").WithFields(logger.Fields{"path": c.FullPath()}).
			WithError(err).Error("request failed")
	}
	c.JSON(code, dto.ErrorResponse{Error: err.Error()})
}

func (s *HTTPServer) health(c *gin.Context) {
	res := dto.HealthResponse{Status: "ok", Cache: "ok", Store: "disabled", Timestamp: time.Now().UTC()}
	code := http.StatusOK
	if err := s.Eng.Ping(c.Request.Context()); err != nil {
		res.Status, res.Cache, code = "degraded", err.Error(), http.StatusServiceUnavailable
	}
	if s.opts.Keys != nil {
		res.Store = "ok"
		if err := s.opts.Keys.Ping(c.Request.Context()); err != nil {
			res.Status, res.Store, code = "degraded", err.Error(), http.StatusServiceUnavailable
		}
	}
	c.JSON(code, res)
}

func (s *HTTPServer) ticker(c *gin.Context) {
	var uri dto.SymbolURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	t, err := s.Eng.Ticker(c.Request.Context(), uri.Symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *HTTPServer) historical(c *gin.Context) {
	var uri dto.SymbolURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	var q dto.HistoricalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if q.TimeFrame == "" {
		q.TimeFrame = "1h"
	}
	candles, err := s.Eng.Historical(c.Request.Context(), uri.Symbol, q.TimeFrame, q.Since)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.HistoricalResponse{
		Symbol:    domain.NormalizeSymbol(uri.Symbol),
		TimeFrame: q.TimeFrame,
		Since:     q.Since,
		Candles:   candles,
	})
}

func (s *HTTPServer) aggregated(c *gin.Context) {
	var uri dto.SymbolURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	view, err := s.Eng.Aggregated(c.Request.Context(), uri.Symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *HTTPServer) orderBook(c *gin.Context) {
	var uri dto.ExchangeSymbolURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	snap, err := s.Eng.OrderBook(c.Request.Context(), uri.ExchangeName, uri.Symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *HTTPServer) tickerDepth(c *gin.Context) {
	var uri dto.ExchangeSymbolURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	var q dto.TickerDepthQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if q.Depth == 0 {
		q.Depth = core.DefaultDepth
	}
	td, err := s.Eng.TickerDepth(c.Request.Context(), uri.ExchangeName, uri.Symbol, q.Depth)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, td)
}

func (s *HTTPServer) markets(c *gin.Context) {
	var uri dto.ExchangeURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	markets, err := s.Eng.Markets(c.Request.Context(), uri.ExchangeName)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MarketsResponse{Exchange: uri.ExchangeName, Count: len(markets), Markets: markets})
}

func (s *HTTPServer) exchanges(c *gin.Context) {
	list := s.Eng.Exchanges(c.Request.Context())
	c.JSON(http.StatusOK, dto.ExchangesResponse{
		Supported:  list.Supported,
		Configured: list.Configured,
		Default:    list.Default,
	})
}

func (s *HTTPServer) addKey(c *gin.Context) {
	var req dto.ExchangeKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.opts.Keys.Add(c.Request.Context(), req.Credential()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.ExchangeKeysResponse{Added: 1})
}

func (s *HTTPServer) addKeys(c *gin.Context) {
	var req dto.BulkExchangeKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	creds := make([]domain.ExchangeCredential, len(req.Keys))
	for i, k := range req.Keys {
		creds[i] = k.Credential()
	}
	if err := s.opts.Keys.Add(c.Request.Context(), creds...); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.ExchangeKeysResponse{Added: len(creds)})
}
