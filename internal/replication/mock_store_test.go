package replication

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/store"
)

// memEndpointStore is an in-memory EndpointStore for engine tests.
type memEndpointStore struct {
	mu        sync.Mutex
	endpoints map[int64]*domain.StorageEndpoint
	nextID    int64
}

func newMemEndpointStore() *memEndpointStore {
	return &memEndpointStore{
		endpoints: make(map[int64]*domain.StorageEndpoint),
		nextID:    1,
	}
}

var _ store.EndpointStore = (*memEndpointStore)(nil)

func (s *memEndpointStore) CreateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint.ID = s.nextID
	s.nextID++

	copied := *endpoint
	s.endpoints[endpoint.ID] = &copied

	return nil
}

func (s *memEndpointStore) GetEndpoint(ctx context.Context, id int64) (*domain.StorageEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint, ok := s.endpoints[id]
	if !ok {
		return nil, store.ErrEndpointNotFound
	}

	copied := *endpoint
	return &copied, nil
}

func (s *memEndpointStore) ListEndpoints(ctx context.Context) ([]*domain.StorageEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*domain.StorageEndpoint, 0, len(s.endpoints))
	for _, endpoint := range s.endpoints {
		copied := *endpoint
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ReadPriority != list[j].ReadPriority {
			return list[i].ReadPriority < list[j].ReadPriority
		}
		return list[i].ID < list[j].ID
	})

	return list, nil
}

func (s *memEndpointStore) UpdateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.endpoints[endpoint.ID]
	if !ok {
		return store.ErrEndpointNotFound
	}

	copied := *endpoint
	copied.IsDefaultUpload = existing.IsDefaultUpload
	copied.IsHealthy = existing.IsHealthy
	s.endpoints[endpoint.ID] = &copied

	return nil
}

func (s *memEndpointStore) SetDefaultUpload(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[id]; !ok {
		return store.ErrEndpointNotFound
	}

	for _, endpoint := range s.endpoints {
		endpoint.IsDefaultUpload = endpoint.ID == id
	}

	return nil
}

func (s *memEndpointStore) GetDefaultUpload(ctx context.Context) (*domain.StorageEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, endpoint := range s.endpoints {
		if endpoint.IsDefaultUpload {
			copied := *endpoint
			return &copied, nil
		}
	}

	return nil, store.ErrEndpointNotFound
}

func (s *memEndpointStore) UpdateHealth(ctx context.Context, id int64, healthy bool, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint, ok := s.endpoints[id]
	if !ok {
		return store.ErrEndpointNotFound
	}

	now := time.Now().UTC()
	endpoint.IsHealthy = healthy
	endpoint.HealthCheckError = errorMsg
	endpoint.LastHealthCheck = &now

	return nil
}

func (s *memEndpointStore) AutoSyncTargets(ctx context.Context, sourceID int64) ([]*domain.StorageEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []*domain.StorageEndpoint
	for _, endpoint := range s.endpoints {
		if !endpoint.IsEnabled || !endpoint.AutoSyncEnabled {
			continue
		}
		if endpoint.SyncFromEndpointID == nil || *endpoint.SyncFromEndpointID != sourceID {
			continue
		}
		copied := *endpoint
		targets = append(targets, &copied)
	}

	return targets, nil
}

func (s *memEndpointStore) WithTx(tx *sql.Tx) store.EndpointStore {
	return s
}

// memLocationStore is an in-memory LocationStore for engine tests.
type memLocationStore struct {
	mu        sync.Mutex
	locations map[[2]int64]*domain.ImageLocation
	nextID    int64
}

func newMemLocationStore() *memLocationStore {
	return &memLocationStore{
		locations: make(map[[2]int64]*domain.ImageLocation),
		nextID:    1,
	}
}

var _ store.LocationStore = (*memLocationStore)(nil)

func locKey(imageID, endpointID int64) [2]int64 {
	return [2]int64{imageID, endpointID}
}

func (s *memLocationStore) UpsertLocation(ctx context.Context, location *domain.ImageLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := locKey(location.ImageID, location.EndpointID)
	if existing, ok := s.locations[key]; ok {
		existing.SyncStatus = location.SyncStatus
		existing.SyncError = location.SyncError
		existing.SyncedAt = location.SyncedAt
		location.ID = existing.ID
		return nil
	}

	location.ID = s.nextID
	s.nextID++
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}

	copied := *location
	s.locations[key] = &copied

	return nil
}

func (s *memLocationStore) GetLocation(ctx context.Context, imageID, endpointID int64) (*domain.ImageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	location, ok := s.locations[locKey(imageID, endpointID)]
	if !ok {
		return nil, store.ErrLocationNotFound
	}

	copied := *location
	return &copied, nil
}

func (s *memLocationStore) GetPrimary(ctx context.Context, imageID int64) (*domain.ImageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, location := range s.locations {
		if location.ImageID == imageID && location.IsPrimary {
			copied := *location
			return &copied, nil
		}
	}

	return nil, store.ErrLocationNotFound
}

func (s *memLocationStore) ListByImage(ctx context.Context, imageID int64) ([]*domain.ImageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*domain.ImageLocation
	for _, location := range s.locations {
		if location.ImageID == imageID {
			copied := *location
			list = append(list, &copied)
		}
	}

	return list, nil
}

func (s *memLocationStore) ListByEndpoint(ctx context.Context, endpointID int64) ([]*domain.ImageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*domain.ImageLocation
	for _, location := range s.locations {
		if location.EndpointID == endpointID {
			copied := *location
			list = append(list, &copied)
		}
	}

	return list, nil
}

func (s *memLocationStore) DeleteLocation(ctx context.Context, imageID, endpointID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locations, locKey(imageID, endpointID))
	return nil
}

func (s *memLocationStore) DeleteByImage(ctx context.Context, imageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, location := range s.locations {
		if location.ImageID == imageID {
			delete(s.locations, key)
		}
	}

	return nil
}

func (s *memLocationStore) DeleteByEndpoint(ctx context.Context, endpointID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, location := range s.locations {
		if location.EndpointID == endpointID {
			delete(s.locations, key)
		}
	}

	return nil
}

func (s *memLocationStore) CountPrimaryOnEndpoint(ctx context.Context, endpointID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, location := range s.locations {
		if location.EndpointID == endpointID && location.IsPrimary {
			count++
		}
	}

	return count, nil
}

func (s *memLocationStore) WithTx(tx *sql.Tx) store.LocationStore {
	return s
}
