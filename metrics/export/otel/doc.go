// Package otel exports goSession metrics as OpenTelemetry observable
// instruments. Counters map to Int64ObservableCounter; the validation
// latency histogram maps to one cumulative gauge per bucket bound.
package otel
