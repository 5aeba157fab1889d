package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/allocator"
	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/backfill"
	"table-allocation-backend/internal/catalog"
	"table-allocation-backend/internal/conflict"
	"table-allocation-backend/internal/parse"
	"table-allocation-backend/internal/store"
	"table-allocation-backend/internal/walkin"
)

// Services are the engine components the API exposes.
type Services struct {
	Store     store.Store
	Directory *catalog.Directory
	Calc      *availability.Calculator
	Allocator *allocator.Allocator
	Detector  *conflict.Detector
	WalkIns   *walkin.Registry
	Sweeper   *backfill.Sweeper
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	directory *catalog.Directory
	calc      *availability.Calculator
	alloc     *allocator.Allocator
	detector  *conflict.Detector
	walkins   *walkin.Registry
	sweeper   *backfill.Sweeper
	webpush   *webpush.Options
	cfg       *config.Config
	now       func() time.Time
	log       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, cfg *config.Config, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	return &Handler{
		store:     svc.Store,
		directory: svc.Directory,
		calc:      svc.Calc,
		alloc:     svc.Allocator,
		detector:  svc.Detector,
		walkins:   svc.WalkIns,
		sweeper:   svc.Sweeper,
		webpush:   webpushOptions,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConcurrencyConflict),
		errors.Is(err, apperr.ErrDataIntegrity),
		errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrNoCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, apperr.ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, apperr.ErrNoCapacity):
		return "no_capacity"
	default:
		return "internal"
	}
}

// fail writes err as a JSON error. Internal errors are logged and hidden.
func (h *Handler) fail(c *gin.Context, err error, extra ...gin.H) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "kind": kindOf(err)}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body["error"] = "internal error"
	}
	for _, e := range extra {
		for k, v := range e {
			body[k] = v
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request", "kind": "validation"})
}

// bindJSON decodes the body into v, answering 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c)
		return false
	}
	return true
}

// queryInt reads an integer query parameter, falling back to def when absent.
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("api", "%s must be an integer", key)
	}
	return n, nil
}

// queryDate reads a YYYY-MM-DD parameter, defaulting to today at the venue.
func (h *Handler) queryDate(c *gin.Context, key string) (string, error) {
	raw := c.Query(key)
	if raw == "" {
		return parse.DateOf(h.venueNow()), nil
	}
	date, err := parse.ParseDate(raw)
	if err != nil {
		return "", apperr.ValidationFrom("api", err)
	}
	return date, nil
}

// queryTime reads a time of day parameter, defaulting to def.
func queryTime(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	minute, err := parse.ParseTimeOfDay(raw)
	if err != nil {
		return 0, apperr.ValidationFrom("api", err)
	}
	return minute, nil
}

// timeOrDefault parses an optional body time field.
func timeOrDefault(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	minute, err := parse.ParseTimeOfDay(raw)
	if err != nil {
		return 0, apperr.ValidationFrom("api", err)
	}
	return minute, nil
}

func (h *Handler) venueNow() time.Time {
	loc := h.cfg.Venue.Location
	if loc == nil {
		loc = time.UTC
	}
	return h.now().In(loc)
}

func actorOf(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader("X-Actor")
}
