package api

import (
	_ "embed"
	"fmt"
	"net/http"
)

const openAPIPath = "/api/v1/openapi.yaml"

//go:embed openapi/openapi.yaml
var openAPISpec []byte

// docsPage loads Swagger UI from a CDN and points it at openAPIPath.
var docsPage = []byte(fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>keepalive API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: %q, dom_id: '#swagger-ui', deepLinking: true, displayRequestDuration: true});
  </script>
</body>
</html>`, openAPIPath))

// ServeOpenAPISpec returns the embedded OpenAPI document.
func (h *Handlers) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	writeStatic(w, "application/yaml", openAPISpec)
}

// ServeSwaggerUI returns the interactive API browser.
func (h *Handlers) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	writeStatic(w, "text/html; charset=utf-8", docsPage)
}

func writeStatic(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
