package instrumentation

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY: never record actual credential values (access tokens, codes,
// client secrets) in traces or metrics. Only record metadata such as client
// ids, grant types, and validation results.
const (
	AttrClientID   = "oauth.client_id"
	AttrClientType = "oauth.client_type"
	AttrGrantType  = "oauth.grant_type"

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks a span as successful (nil-safe).
func RecordSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}
