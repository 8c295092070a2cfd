package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cflux/backend/pkg/models"
)

// SnapshotLoader loads the snapshot of one entity type.
type SnapshotLoader func(ctx context.Context, entityID string) (*models.EntitySnapshot, error)

// EntityRegistry routes snapshot lookups by entity type. Registered types are
// strict: a loader error propagates so the engine fails closed. Unregistered
// types degrade to a minimal {id} snapshot, because workflows may run against
// entity kinds this service does not own.
type EntityRegistry struct {
	loaders map[string]SnapshotLoader
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{loaders: map[string]SnapshotLoader{}}
}

// Register installs the loader for one entity type.
func (r *EntityRegistry) Register(entityType string, loader SnapshotLoader) {
	r.loaders[entityType] = loader
}

// Snapshot implements EntitySource.
func (r *EntityRegistry) Snapshot(ctx context.Context, entityType, entityID string) (*models.EntitySnapshot, error) {
	if loader, ok := r.loaders[entityType]; ok {
		snap, err := loader(ctx, entityID)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", entityType, entityID, err)
		}
		return snap, nil
	}
	return &models.EntitySnapshot{ID: entityID, Type: entityType}, nil
}

// HTTPEntityClient fetches entity snapshots from the document service.
type HTTPEntityClient struct {
	url    string
	client *http.Client
}

// NewHTTPEntityClient creates a new HTTPEntityClient.
func NewHTTPEntityClient(url string) *HTTPEntityClient {
	return &HTTPEntityClient{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Loader returns a SnapshotLoader bound to one entity type.
func (c *HTTPEntityClient) Loader(entityType string) SnapshotLoader {
	return func(ctx context.Context, entityID string) (*models.EntitySnapshot, error) {
		return c.fetch(ctx, entityType, entityID)
	}
}

func (c *HTTPEntityClient) fetch(ctx context.Context, entityType, entityID string) (*models.EntitySnapshot, error) {
	requestBody, err := json.Marshal(map[string]string{"entityType": entityType, "entityId": entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/snapshot", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get snapshot: status code %d", resp.StatusCode)
	}

	var snap models.EntitySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return &snap, nil
}
