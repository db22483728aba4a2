//go:build !no_otel

// Package otel wraps the tracer construction so the rest of the module
// can be built with the `no_otel` tag to drop the dependency entirely.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
