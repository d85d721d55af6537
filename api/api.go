// Package api holds the published OpenAPI document.
package api

import _ "embed"

// OpenAPI is the OpenAPI 3 description of the REST surface.
//
//go:embed openapi.yaml
var OpenAPI []byte
