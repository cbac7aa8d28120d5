package api

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"

	"ratelimiter/internal/models"

	"github.com/cespare/xxhash/v2"
)

//go:embed openapi/openapi.yaml
var openAPIDocument []byte

// openAPIETag identifies the embedded document; it only changes between builds.
var openAPIETag = fmt.Sprintf(`"%016x"`, xxhash.Sum64(openAPIDocument))

// ServeOpenAPISpec serves the embedded OpenAPI 3.0.3 document as YAML.
// A matching If-None-Match answers 304 without a body.
func (h *Handlers) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", openAPIETag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if r.Header.Get("If-None-Match") == openAPIETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Rate Limiter API{{if .Version}} {{.Version}}{{end}} - Documentation</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/api/v1/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      deepLinking: true,
      tryItOutEnabled: true,
      displayRequestDuration: true
    });
  </script>
</body>
</html>`))

// ServeSwaggerUI serves an interactive Swagger UI for the embedded document,
// with the running version in the page title.
func (h *Handlers) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := docsPage.Execute(&buf, struct{ Version string }{Version: h.version}); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to render documentation")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
