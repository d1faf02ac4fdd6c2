package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the agent.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>beeunity-agent Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "beeunity-agent", "version": "v0.1.0" },
  "paths": {
    "/auth/login": {
      "get": { "summary": "Start sign-in (redirect, or JSON with Accept: application/json)", "responses": { "302": { "description": "redirect to provider" }, "200": { "description": "authorization URL" }, "503": { "description": "discovery not loaded" } } }
    },
    "/auth/signup": { "get": { "summary": "Redirect to account creation", "responses": { "302": { "description": "redirect" } } } },
    "/oauth/callback": {
      "get": { "summary": "Authorization response; exchanges the code", "parameters": [{"name":"code","in":"query","schema":{"type":"string"}},{"name":"state","in":"query","schema":{"type":"string"}}], "responses": { "200": { "description": "signed in" }, "400": { "description": "sign-in failed" } } }
    },
    "/auth/refresh": {
      "post": { "summary": "Refresh the live session", "responses": { "200": { "description": "refreshed or unchanged" }, "401": { "description": "no session, or refresh failed and the session ended" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Sign out and delete the stored session", "responses": { "200": { "description": "signed out" } } }
    },
    "/api/v1/session": { "get": { "summary": "Session state", "responses": { "200": { "description": "state" } } } },
    "/api/v1/me": { "get": { "summary": "Identity claims and onboarding status", "responses": { "200": { "description": "claims" }, "401": { "description": "not signed in" }, "503": { "description": "restoring" } } } },
    "/api/v1/wards": { "get": { "summary": "Wards", "responses": { "200": { "description": "wards" } } } },
    "/api/v1/hives": { "get": { "summary": "Hives", "responses": { "200": { "description": "hives" } } } },
    "/api/v1/hives/{id}/health": { "get": { "summary": "Hive health", "parameters": [{"name":"id","in":"path","required":true,"schema":{"type":"string"}}], "responses": { "200": { "description": "status, inspections, yields, alerts" } } } },
    "/api/v1/overview": { "get": { "summary": "Ward dashboard", "parameters": [{"name":"ward_id","in":"query","schema":{"type":"string"}}], "responses": { "200": { "description": "climate, boundary, hives" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
