package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceHeaders appends W3C trace context headers to Kafka headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, key := range []string{"traceparent", "tracestate"} {
		if v := carrier[key]; v != "" {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
		}
	}
	return headers
}
