package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader carries the trace ID between services.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key holding the trace ID.
	TraceIDKey = "trace_id"
	// UserIDKey is the gin context key holding the authenticated account ID.
	UserIDKey = "user_id"

	requestContextKey = "request_context"
)

// RequestContext bundles the request-scoped metadata the audit log records
// alongside every security event.
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
}

// EnrichContext stamps each request with a trace ID and captures the caller
// metadata. An inbound X-Trace-ID is honored so traces survive proxy hops.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// GetTraceID returns the trace ID for the current request, or "" when the
// enrichment middleware did not run.
func GetTraceID(c *gin.Context) string {
	id, _ := c.Value(TraceIDKey).(string)
	return id
}

// GetRequestContext returns the request metadata. It never returns nil so
// callers can read fields without guarding.
func GetRequestContext(c *gin.Context) *RequestContext {
	if reqCtx, ok := c.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}
	return &RequestContext{}
}
