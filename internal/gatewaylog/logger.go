package gatewaylog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres undefined_column
const undefinedColumn = "42703"

type Store interface {
	Create(ctx context.Context, log *models.GatewayLog) error
	CreateMinimal(ctx context.Context, log *models.GatewayLog) error
}

// Entry is everything the pipeline knows about a finished request.
type Entry struct {
	Start        time.Time
	ProjectID    *uuid.UUID
	APIKeyID     *uuid.UUID
	RequestID    string
	Endpoint     string
	Method       string
	StatusCode   int
	Environment  string
	Header       http.Header
	IPAddress    string
	ErrorCode    string
	ErrorMessage string
	Metadata     map[string]interface{}
}

type Logger struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// OnDegraded observes every write that was given up on.
	OnDegraded func(err error)
}

func NewLogger(store Store, timeout time.Duration, logger *slog.Logger) *Logger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Logger{
		store:   store,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Log persists one record per request. It never fails: errors are logged
// and counted. The write survives cancellation of ctx so a client that
// disconnects still leaves a trace.
func (l *Logger) Log(ctx context.Context, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("gateway log panicked", "request_id", e.RequestID, "panic", r)
			l.degraded(errors.New("panic while writing gateway log"))
		}
	}()

	record := l.build(e)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	err := l.store.Create(ctx, record)
	if err == nil {
		return
	}

	if isUndefinedColumn(err) {
		l.logger.Warn("gateway log schema mismatch, retrying with minimal fields",
			"request_id", e.RequestID, "error", err)
		err = l.store.CreateMinimal(ctx, record)
		if err == nil {
			return
		}
	}

	l.logger.Error("failed to write gateway log", "request_id", e.RequestID, "error", err)
	l.degraded(err)
}

func (l *Logger) degraded(err error) {
	if l.OnDegraded != nil {
		l.OnDegraded(err)
	}
}

func (l *Logger) build(e Entry) *models.GatewayLog {
	now := l.now()
	var latency int64
	if !e.Start.IsZero() {
		latency = now.Sub(e.Start).Milliseconds()
		if latency < 0 {
			latency = 0
		}
	}

	app, origin := CallerIdentity(e.Header)

	record := &models.GatewayLog{
		ProjectID:    e.ProjectID,
		APIKeyID:     e.APIKeyID,
		RequestID:    e.RequestID,
		Endpoint:     e.Endpoint,
		Method:       e.Method,
		StatusCode:   e.StatusCode,
		LatencyMs:    latency,
		Environment:  e.Environment,
		ClientApp:    app,
		CallerOrigin: origin,
		IPAddress:    e.IPAddress,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    now.UTC(),
	}
	if e.Header != nil {
		record.UserAgent = e.Header.Get("User-Agent")
		record.CountryCode = countryCode(e.Header)
	}
	if len(e.Metadata) > 0 {
		record.Metadata = e.Metadata
	}
	return record
}

// CallerIdentity names the calling application. An explicit X-Client-App
// wins over Origin, which wins over Referer. origin is the raw Origin or
// Referer header, whichever was present.
func CallerIdentity(h http.Header) (app, origin string) {
	if h == nil {
		return "", ""
	}

	origin = h.Get("Origin")
	if origin == "" {
		origin = h.Get("Referer")
	}

	if explicit := strings.TrimSpace(h.Get("X-Client-App")); explicit != "" {
		return explicit, origin
	}
	if o := h.Get("Origin"); o != "" {
		return hostOf(o), origin
	}
	if r := h.Get("Referer"); r != "" {
		return hostOf(r), origin
	}
	return "", origin
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Hostname()
}

func countryCode(h http.Header) string {
	for _, name := range []string{"CF-IPCountry", "X-Vercel-IP-Country", "X-Country-Code"} {
		if v := h.Get(name); v != "" {
			return strings.ToUpper(v)
		}
	}
	return ""
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedColumn
}
