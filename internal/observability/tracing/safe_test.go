package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsContactData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("source", "workiz"),
		attribute.String("contact_phone", "2345678901"),
		attribute.String("http.route", "/api/v1/sync/:resource"),
		attribute.String("api_key", "secret"),
	)

	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		keys = append(keys, string(attr.Key))
	}
	assert.ElementsMatch(t, []string{"source", "http.route"}, keys)
}

func TestSafeErrorMasksURLs(t *testing.T) {
	err := SafeError(errors.New(`Get "https://api.workiz.com/api/v1/KEY/job/all/": timeout`))
	assert.Equal(t, "Get [url] timeout", err.Error())
	assert.Nil(t, SafeError(nil))
}
