package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddlewareTagsSyncSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/api/v1/sync/:resource", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, target := range []string{"/health", "/api/v1/sync/leads"} {
		method := http.MethodPost
		if target == "/health" {
			method = http.MethodGet
		}
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, target, nil))
	}

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /api/v1/sync/:resource", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("sync.resource", "leads"))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.status_code", http.StatusOK))
}
