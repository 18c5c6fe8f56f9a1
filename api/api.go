// Package api содержит OpenAPI-спецификацию сервиса, встраиваемую в бинарь.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte
