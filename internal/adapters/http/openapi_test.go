package http_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/samirrijal/etxea/api"
)

func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()
	loader := &openapi3.Loader{IsExternalRefsAllowed: false}
	spec, err := loader.LoadFromData(api.OpenAPI)
	if err != nil {
		t.Fatalf("failed to parse OpenAPI spec: %v", err)
	}
	return spec
}

// TestOpenAPISpec validates the OpenAPI document and its coverage of the routes.
func TestOpenAPISpec(t *testing.T) {
	spec := loadSpec(t)

	if err := spec.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI spec validation failed: %v", err)
	}

	expectedPaths := []string{
		"/v1/health",
		"/v1/ready",
		"/v1/listings",
		"/v1/listings/nearby",
		"/v1/listings/{id}",
		"/v1/map/render",
		"/v1/map/summary",
		"/v1/clusters",
		"/graphql",
	}
	for _, path := range expectedPaths {
		if item := spec.Paths.Find(path); item == nil {
			t.Errorf("expected path %s not found in spec", path)
		}
	}

	expectedSchemas := []string{
		"GeoPoint",
		"Listing",
		"Marker",
		"RenderSet",
		"ClusterSummary",
		"APIError",
		"Pagination",
	}
	for _, schema := range expectedSchemas {
		if spec.Components.Schemas[schema] == nil {
			t.Errorf("expected schema %s not found", schema)
		}
	}

	if op := spec.Paths.Find("/v1/clusters").Get; op == nil || !op.Deprecated {
		t.Error("expected /v1/clusters to be marked deprecated")
	}

	t.Logf("OpenAPI spec valid: %d paths, %d schemas", len(spec.Paths.Map()), len(spec.Components.Schemas))
}

// TestOpenAPIInfo verifies spec metadata.
func TestOpenAPIInfo(t *testing.T) {
	spec := loadSpec(t)

	if spec.Info.Title != "Etxea Listings API" {
		t.Errorf("expected title 'Etxea Listings API', got %q", spec.Info.Title)
	}
	if spec.Info.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %q", spec.Info.Version)
	}
	if spec.Info.Description == "" {
		t.Error("expected non-empty description")
	}
	if len(spec.Servers) == 0 {
		t.Fatal("expected at least one server")
	}
}

func TestDocs_ServesJSONDocument(t *testing.T) {
	app := setupApp(makeDeps(t))

	resp := send(t, app, httptest.NewRequest("GET", "/docs/openapi.json", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var doc struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}
	decode(t, resp.Body, &doc)
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		t.Errorf("expected an OpenAPI 3 document, got %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/v1/map/render"]; !ok {
		t.Error("expected /v1/map/render in the JSON document")
	}

	resp = send(t, app, httptest.NewRequest("GET", "/docs", nil))
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML docs page, got %q", ct)
	}
}
