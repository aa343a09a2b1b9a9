// Package port contains the entry points into the identity service.
// The HTTP handler authenticates device tokens, translates JSON requests
// into app layer calls and maps outcomes and faults back to responses.
package port
