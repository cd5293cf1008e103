package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Monthlyaway/short-it/internal/model"
	"github.com/Monthlyaway/short-it/internal/ratelimit"
	"github.com/Monthlyaway/short-it/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// URLHandler handles HTTP requests for URL operations
type URLHandler struct {
	service *service.URLService
	baseURL string
	log     *zap.Logger
}

// NewURLHandler creates a new URL handler instance.
// An empty baseURL makes short links relative to the host of each request.
func NewURLHandler(service *service.URLService, baseURL string, log *zap.Logger) *URLHandler {
	return &URLHandler{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.Named("handler"),
	}
}

// CreateShortURLRequest represents the request body for creating a short URL
type CreateShortURLRequest struct {
	TargetURL string `json:"target_url" binding:"required"`
	CustomKey string `json:"custom_key"`
}

// ClickInfo is one entry of a URL's click history
type ClickInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	ClientIP  string    `json:"client_ip"`
}

// URLInfo describes a short URL to its owner
type URLInfo struct {
	TargetURL   string      `json:"target_url"`
	CustomKey   *string     `json:"custom_key"`
	Key         string      `json:"key"`
	IsActive    bool        `json:"is_active"`
	Clicks      uint64      `json:"clicks"`
	URL         string      `json:"url"`
	AdminURL    string      `json:"admin_url"`
	CreatedAt   time.Time   `json:"created_at"`
	ClickEvents []ClickInfo `json:"click_events"`
}

// Response represents a generic API response
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Root handles GET /
func (h *URLHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to the URL Shortener API"})
}

// HealthCheck handles GET /health
func (h *URLHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "OK",
	})
}

// CreateShortURL handles POST /url
func (h *URLHandler) CreateShortURL(c *gin.Context) {
	var req CreateShortURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	url, decision, err := h.service.Create(c.Request.Context(), service.CreateInput{
		TargetURL: req.TargetURL,
		CustomKey: req.CustomKey,
		ClientIP:  c.ClientIP(),
	})
	if decision != nil {
		setRateLimitHeaders(c, decision)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	info := h.urlInfo(c, url)
	if req.CustomKey != "" {
		info.CustomKey = &req.CustomKey
	}
	c.JSON(http.StatusOK, info)
}

// Redirect handles GET /:key
func (h *URLHandler) Redirect(c *gin.Context) {
	target, err := h.service.Redirect(c.Request.Context(), service.Visit{
		Key:       c.Param("key"),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, target)
}

// QRCode handles GET /:key/qr
func (h *URLHandler) QRCode(c *gin.Context) {
	key := c.Param("key")
	png, err := h.service.QRCode(c.Request.Context(), key, h.base(c)+"/"+key)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// AdminInfo handles GET /admin/:secret_key
func (h *URLHandler) AdminInfo(c *gin.Context) {
	url, err := h.service.AdminInfo(c.Request.Context(), c.Param("secret_key"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.urlInfo(c, url))
}

// Deactivate handles DELETE /admin/:secret_key
func (h *URLHandler) Deactivate(c *gin.Context) {
	url, err := h.service.Deactivate(c.Request.Context(), c.Param("secret_key"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.urlInfo(c, url))
}

func (h *URLHandler) urlInfo(c *gin.Context, url *model.URL) URLInfo {
	base := h.base(c)
	events := make([]ClickInfo, 0, len(url.ClickEvents))
	for _, click := range url.ClickEvents {
		events = append(events, ClickInfo{
			Timestamp: click.Timestamp,
			Country:   click.Country,
			City:      click.City,
			ClientIP:  click.ClientIP,
		})
	}

	return URLInfo{
		TargetURL:   url.TargetURL,
		Key:         url.Key,
		IsActive:    url.IsActive,
		Clicks:      url.Clicks,
		URL:         base + "/" + url.Key,
		AdminURL:    base + "/admin/" + url.SecretKey,
		CreatedAt:   url.CreatedAt,
		ClickEvents: events,
	}
}

// base returns the configured base URL, or the one the client used to reach us.
// Forwarding headers are ignored; deployments behind a TLS proxy set server.base_url.
func (h *URLHandler) base(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (h *URLHandler) writeError(c *gin.Context, err error) {
	var (
		status  int
		message string
	)
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "URL not found"
	case errors.Is(err, service.ErrAliasTaken):
		status, message = http.StatusBadRequest, "Custom alias already exists"
	case errors.Is(err, service.ErrConflict):
		status, message = http.StatusBadRequest, "Key already exists, please retry"
	case errors.Is(err, service.ErrInvalidURL), errors.Is(err, service.ErrInvalidKey):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrRateLimited):
		status, message = http.StatusTooManyRequests, "Too many requests. Slow down!"
	default:
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		status, message = http.StatusInternalServerError, "Internal server error"
	}

	c.JSON(status, Response{Code: status, Message: message})
}

func setRateLimitHeaders(c *gin.Context, d *ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if wait := d.RetryAfter(time.Now()); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
}
