// Package api serves stored prices, features and pipeline state over HTTP.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/orchestrator"
	"crypto-feature-store/internal/storage"
)

// Lookback bounds for the hours query parameter.
const (
	DefaultHours = 24
	MaxHours     = 24 * 30
)

// StatusProvider reports scheduler state. Implemented by *orchestrator.Orchestrator.
type StatusProvider interface {
	Status() orchestrator.Status
}

// Options contains dependencies for creating a Server.
type Options struct {
	Raw        storage.RawSeriesStore
	Features   storage.FeatureStore
	Watermarks storage.WatermarkStore

	// Optional
	Status  StatusProvider
	Metrics http.Handler
	Hub     *Hub
	Logger  *log.Logger
	Now     func() time.Time
}

// Server is the read API.
type Server struct {
	raw        storage.RawSeriesStore
	features   storage.FeatureStore
	watermarks storage.WatermarkStore
	status     StatusProvider
	hub        *Hub
	logger     *log.Logger
	now        func() time.Time
	engine     *gin.Engine
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		raw:        opts.Raw,
		features:   opts.Features,
		watermarks: opts.Watermarks,
		status:     opts.Status,
		hub:        opts.Hub,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/status", s.getStatus)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/prices/:asset_id", s.getPrices)
		v1.GET("/features/:asset_id", s.getFeatures)
		v1.GET("/watermarks", s.getWatermarks)
		if s.hub != nil {
			v1.GET("/stream", gin.WrapH(s.hub))
		}
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// PriceResponse is one raw bar.
type PriceResponse struct {
	AssetID   string    `json:"asset_id"`
	Timestamp time.Time `json:"timestamp"`
	Open      *float64  `json:"open"`
	High      *float64  `json:"high"`
	Low       *float64  `json:"low"`
	Close     float64   `json:"close"`
	Volume    *float64  `json:"volume"`
}

// FeatureResponse is one feature row.
type FeatureResponse struct {
	AssetID       string    `json:"asset_id"`
	Timestamp     time.Time `json:"timestamp"`
	Close         *float64  `json:"close"`
	Return1       *float64  `json:"return_1"`
	RollingMean24 *float64  `json:"rolling_mean_24"`
	RollingStd24  *float64  `json:"rolling_std_24"`
}

// WatermarkResponse is the ingestion state of one asset.
type WatermarkResponse struct {
	AssetID       string     `json:"asset_id"`
	LastTimestamp *time.Time `json:"last_timestamp"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"scheduler": "disabled"})
		return
	}
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) getPrices(c *gin.Context) {
	assetID := c.Param("asset_id")
	start, end, ok := s.window(c)
	if !ok {
		return
	}

	bars, err := s.raw.GetByTimeRange(c.Request.Context(), assetID, start, end)
	if err != nil {
		s.internalError(c, "get prices", err)
		return
	}
	if len(bars) == 0 {
		notFound(c)
		return
	}

	resp := make([]PriceResponse, len(bars))
	for i, b := range bars {
		volume := b.Volume
		resp[i] = PriceResponse{
			AssetID:   b.AssetID,
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    &volume,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getFeatures(c *gin.Context) {
	assetID := c.Param("asset_id")
	start, end, ok := s.window(c)
	if !ok {
		return
	}

	rows, err := s.features.GetByTimeRange(c.Request.Context(), assetID, start, end)
	if err != nil {
		s.internalError(c, "get features", err)
		return
	}
	if len(rows) == 0 {
		notFound(c)
		return
	}

	resp := make([]FeatureResponse, len(rows))
	for i, r := range rows {
		resp[i] = featureResponse(r)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getWatermarks(c *gin.Context) {
	wms, err := s.watermarks.List(c.Request.Context())
	if err != nil {
		s.internalError(c, "list watermarks", err)
		return
	}

	resp := make([]WatermarkResponse, len(wms))
	for i, w := range wms {
		resp[i] = WatermarkResponse{AssetID: w.AssetID, LastTimestamp: w.LastTimestamp, UpdatedAt: w.UpdatedAt}
	}
	c.JSON(http.StatusOK, resp)
}

// window parses ?hours and returns [now-hours, now]. Writes a 400 and returns false when invalid.
func (s *Server) window(c *gin.Context) (time.Time, time.Time, bool) {
	hours := DefaultHours
	if raw, present := c.GetQuery("hours"); present {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxHours {
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": "hours must be an integer between 1 and " + strconv.Itoa(MaxHours),
			})
			return time.Time{}, time.Time{}, false
		}
		hours = n
	}

	end := s.now().UTC()
	return end.Add(-time.Duration(hours) * time.Hour), end, true
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Printf("%s %s: %s: %v", c.Request.Method, c.Request.URL.Path, op, err)
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"detail": http.StatusText(status)})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "No data for this asset/time window"})
}

func featureResponse(r *domain.FeatureRow) FeatureResponse {
	return FeatureResponse{
		AssetID:       r.AssetID,
		Timestamp:     r.Timestamp.UTC(),
		Close:         r.Close,
		Return1:       r.Return1,
		RollingMean24: r.RollingMean24,
		RollingStd24:  r.RollingStd24,
	}
}
