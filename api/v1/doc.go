// Package apiv1 embeds the OpenAPI document of the identity HTTP API.
package apiv1

import _ "embed"

// Spec contains the OpenAPI 3 document served at /api/v1/openapi.json. It is
// embedded at compile time so the binary works with scratch-based images.
//
//go:embed openapi.json
var Spec []byte
