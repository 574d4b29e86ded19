package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("doc_type", "SalesOrder"),
		attribute.String("order_id", "456"),
		attribute.String("op", "commit"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "doc_type" && attrs[1].Key != "doc_type" {
		t.Fatalf("expected doc_type to be retained")
	}
	if attrs[0].Key != "op" && attrs[1].Key != "op" {
		t.Fatalf("expected op to be retained")
	}
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordTaxAmount(context.Background(), "SalesOrder", 21.75)
	m.RecordInvoiceEvent(context.Background(), "commit", "committed")

	var nilMetrics *Metrics
	nilMetrics.RecordTaxAmount(context.Background(), "SalesOrder", 1)
}
