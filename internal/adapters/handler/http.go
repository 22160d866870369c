// Package handler exposes the image cache over HTTP.
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"pixcache/internal/core/domain"
	"pixcache/internal/core/port"
)

// ownerHeader carries the identity resolved by the upstream auth layer.
// An absent header means an anonymous caller.
const ownerHeader = "X-Api-User"

const maxUploadBytes = 64 << 20

// Server maps HTTP requests onto the ImageCache port and the error
// taxonomy onto status codes. It never inspects error strings.
type Server struct {
	cache port.ImageCache
}

func NewServer(cache port.ImageCache) *Server {
	return &Server{cache: cache}
}

func (s *Server) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/images/:id", s.getImage)
	v1.POST("/images", s.uploadImage)
	v1.POST("/images/url", s.ingestURL)
	v1.DELETE("/images/:id", s.deleteImage)
}

func caller(c *gin.Context) string {
	return c.GetHeader(ownerHeader)
}

// owner resolves the principal new entries belong to; anonymous ingests
// are owned by the system.
func owner(c *gin.Context) string {
	if id := c.GetHeader(ownerHeader); id != "" {
		return id
	}
	return domain.OwnerSystem
}

func (s *Server) getImage(c *gin.Context) {
	raw, err := parseRawParams(c)
	if err != nil {
		s.renderError(c, err)
		return
	}

	data, contentType, err := s.cache.Serve(c.Request.Context(), caller(c), c.Param("id"), raw)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) uploadImage(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil {
		s.renderError(c, err)
		return
	}

	id, err := s.cache.IngestFromBytes(c.Request.Context(), owner(c), data)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type ingestURLRequest struct {
	URL   string `json:"url" binding:"required"`
	Force bool   `json:"force"`
}

func (s *Server) ingestURL(c *gin.Context) {
	var req ingestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	id, err := s.cache.IngestFromURL(c.Request.Context(), owner(c), req.URL, req.Force)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) deleteImage(c *gin.Context) {
	if err := s.cache.DeleteAll(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// transform query parameters with their short aliases.
var paramAliases = map[string]string{
	"w":   "width",
	"h":   "height",
	"q":   "quality",
	"pos": "position",
	"bg":  "background",
}

// parseRawParams collects the transform parameters from the query
// string. Unrecognized keys are passed along as format-specific encoder
// knobs for the canonicalizer to clean.
func parseRawParams(c *gin.Context) (domain.RawParams, error) {
	raw := domain.RawParams{Options: map[string]string{}}
	verr := &domain.ValidationError{}

	for key, values := range c.Request.URL.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0]

		name := key
		if full, ok := paramAliases[key]; ok {
			name = full
		}

		switch name {
		case "width":
			raw.Width = parseIntParam(name, value, verr)
		case "height":
			raw.Height = parseIntParam(name, value, verr)
		case "quality":
			raw.Quality = parseIntParam(name, value, verr)
		case "format":
			raw.Format = value
		case "fit":
			raw.Fit = value
		case "position":
			raw.Position = value
		case "background":
			raw.Background = value
		case "kernel":
			raw.Kernel = value
		default:
			raw.Options[name] = value
		}
	}

	if len(verr.Fields) > 0 {
		return domain.RawParams{}, verr
	}
	return raw, nil
}

func parseIntParam(name, value string, verr *domain.ValidationError) *int {
	v, err := strconv.Atoi(value)
	if err != nil {
		if verr.Fields == nil {
			verr.Fields = map[string]string{}
		}
		verr.Fields[name] = "must be an integer"
		return nil
	}
	return &v
}

func (s *Server) renderError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	var uerr *domain.UpstreamError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parameters", "fields": verr.Fields})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrInvalidImage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "data does not decode as an image"})
	case errors.As(err, &uerr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream fetch failed", "upstreamStatus": uerr.Status})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
