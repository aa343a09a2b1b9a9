// Package adapter contains implementations of interfaces defined in app:
// DynamoDB, PostgreSQL and in-memory storage, Redis limiters, SNS delivery
// and the AWS pepper loader.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("identity/adapter")
