//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	handler "github.com/samirrijal/etxea/internal/adapters/http"
	"github.com/samirrijal/etxea/internal/adapters/postgres"
	"github.com/samirrijal/etxea/internal/core/clustering"
	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/core/store"
	"github.com/samirrijal/etxea/internal/core/usecases"
	"github.com/samirrijal/etxea/internal/pkg/config"
)

// setupTestDB connects to the database named by the ETXEA_DATABASE_* settings.
// The schema must be migrated.
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("etxea-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// setupTestDeps wires a fresh in-memory store over the real repository.
func setupTestDeps(t *testing.T, db *postgres.DB) *handler.Dependencies {
	repo := postgres.NewListingRepo(db)
	st := store.New(0.05)
	catalog := usecases.NewCatalogService(st, repo, nil, nil)
	if _, err := catalog.Warm(context.Background()); err != nil {
		t.Logf("warm: %v", err)
	}
	return &handler.Dependencies{
		Listings: usecases.NewListingService(st, repo, nil),
		Map:      usecases.NewMapService(st, clustering.NewEngine(60, 256), nil),
		Catalog:  catalog,
		DB:       db,
	}
}

func TestIntegration_ListingSurvivesRestart(t *testing.T) {
	db := setupTestDB(t)
	id := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_ = postgres.NewListingRepo(db).Delete(context.Background(), id)
	})

	app := setupApp(setupTestDeps(t, db))
	body := fmt.Sprintf(`{"id":%q,"location":{"lat":43.2627,"lon":-2.9253},"price":245000,"bedrooms":3,"property_type":"apartment","title":"Casco Viejo flat","area":"Bilbao"}`, id)
	resp := send(t, app, jsonRequest("POST", "/v1/listings", body))
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// A second instance warms from the database.
	app = setupApp(setupTestDeps(t, db))
	resp = send(t, app, httptest.NewRequest("GET", "/v1/listings/"+id, nil))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var l domain.Listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		t.Fatal(err)
	}
	if l.Price != 245000 || l.Area != "Bilbao" {
		t.Errorf("unexpected listing %+v", l)
	}

	resp = send(t, app, httptest.NewRequest("GET", "/v1/listings/nearby?lat=43.2627&lon=-2.9253&radius=100", nil))
	var near []domain.Listing
	if err := json.NewDecoder(resp.Body).Decode(&near); err != nil {
		t.Fatal(err)
	}
	if len(near) == 0 || near[0].ID != id {
		t.Errorf("expected %s nearest, got %+v", id, near)
	}
}

func TestIntegration_Ready(t *testing.T) {
	db := setupTestDB(t)
	app := setupApp(setupTestDeps(t, db))

	resp := send(t, app, httptest.NewRequest("GET", "/v1/ready", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
