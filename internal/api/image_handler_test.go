package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/queue"
	"github.com/imagevault/imagevault/internal/registry"
	"github.com/imagevault/imagevault/internal/replication"
	"github.com/imagevault/imagevault/internal/storage"
	"github.com/imagevault/imagevault/internal/store"
)

// fakeImageStore is an in-memory ImageStore for handler tests.
type fakeImageStore struct {
	mu     sync.Mutex
	images map[int64]*domain.Image
	nextID int64
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{images: make(map[int64]*domain.Image), nextID: 1}
}

var _ store.ImageStore = (*fakeImageStore)(nil)

func (s *fakeImageStore) CreateImage(ctx context.Context, image *domain.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	image.ID = s.nextID
	s.nextID++
	image.CreatedAt = time.Now().UTC()

	copied := *image
	s.images[image.ID] = &copied
	return nil
}

func (s *fakeImageStore) GetImage(ctx context.Context, id int64) (*domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	image, ok := s.images[id]
	if !ok {
		return nil, store.ErrImageNotFound
	}
	copied := *image
	return &copied, nil
}

func (s *fakeImageStore) UpdateTags(ctx context.Context, id int64, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	image, ok := s.images[id]
	if !ok {
		return store.ErrImageNotFound
	}
	image.Tags = tags
	return nil
}

func (s *fakeImageStore) DeleteImage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.images, id)
	return nil
}

func (s *fakeImageStore) WithTx(tx *sql.Tx) store.ImageStore {
	return s
}

func (s *fakeImageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// fakeLocationStore is an in-memory LocationStore for handler tests.
type fakeLocationStore struct {
	mu        sync.Mutex
	locations map[[2]int64]*domain.ImageLocation
	nextID    int64
}

func newFakeLocationStore() *fakeLocationStore {
	return &fakeLocationStore{locations: make(map[[2]int64]*domain.ImageLocation), nextID: 1}
}

var _ store.LocationStore = (*fakeLocationStore)(nil)

func (s *fakeLocationStore) UpsertLocation(ctx context.Context, location *domain.ImageLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]int64{location.ImageID, location.EndpointID}
	if existing, ok := s.locations[key]; ok {
		existing.SyncStatus = location.SyncStatus
		existing.SyncError = location.SyncError
		existing.SyncedAt = location.SyncedAt
		location.ID = existing.ID
		return nil
	}

	location.ID = s.nextID
	s.nextID++
	copied := *location
	s.locations[key] = &copied
	return nil
}

func (s *fakeLocationStore) GetLocation(ctx context.Context, imageID, endpointID int64) (*domain.ImageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	location, ok := s.locations[[2]int64{imageID, endpointID}]
	if !ok {
		return nil, store.ErrLocationNotFound
	}
	copied := *location
	return &copied, nil
}

func (s *fakeLocationStore) GetPrimary(ctx context.Context, imageID int64) (*domain.ImageLocation, error) {
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

func (s *fakeLocationStore) ListByImage(ctx context.Context, imageID int64) ([]*domain.ImageLocation, error) {
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

func (s *fakeLocationStore) ListByEndpoint(ctx context.Context, endpointID int64) ([]*domain.ImageLocation, error) {
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

func (s *fakeLocationStore) DeleteLocation(ctx context.Context, imageID, endpointID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locations, [2]int64{imageID, endpointID})
	return nil
}

func (s *fakeLocationStore) DeleteByImage(ctx context.Context, imageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, location := range s.locations {
		if location.ImageID == imageID {
			delete(s.locations, key)
		}
	}
	return nil
}

func (s *fakeLocationStore) DeleteByEndpoint(ctx context.Context, endpointID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, location := range s.locations {
		if location.EndpointID == endpointID {
			delete(s.locations, key)
		}
	}
	return nil
}

func (s *fakeLocationStore) CountPrimaryOnEndpoint(ctx context.Context, endpointID int64) (int, error) {
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

func (s *fakeLocationStore) WithTx(tx *sql.Tx) store.LocationStore {
	return s
}

func (s *fakeLocationStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locations)
}

// fakeUploadEndpointStore holds a single upload endpoint.
type fakeUploadEndpointStore struct {
	endpoint *domain.StorageEndpoint
}

var _ store.EndpointStore = (*fakeUploadEndpointStore)(nil)

func (s *fakeUploadEndpointStore) CreateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	endpoint.ID = 1
	s.endpoint = endpoint
	return nil
}

func (s *fakeUploadEndpointStore) GetEndpoint(ctx context.Context, id int64) (*domain.StorageEndpoint, error) {
	if s.endpoint == nil || s.endpoint.ID != id {
		return nil, store.ErrEndpointNotFound
	}
	return s.endpoint, nil
}

func (s *fakeUploadEndpointStore) ListEndpoints(ctx context.Context) ([]*domain.StorageEndpoint, error) {
	if s.endpoint == nil {
		return nil, nil
	}
	return []*domain.StorageEndpoint{s.endpoint}, nil
}

func (s *fakeUploadEndpointStore) UpdateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	s.endpoint = endpoint
	return nil
}

func (s *fakeUploadEndpointStore) SetDefaultUpload(ctx context.Context, id int64) error {
	if s.endpoint == nil || s.endpoint.ID != id {
		return store.ErrEndpointNotFound
	}
	s.endpoint.IsDefaultUpload = true
	return nil
}

func (s *fakeUploadEndpointStore) GetDefaultUpload(ctx context.Context) (*domain.StorageEndpoint, error) {
	if s.endpoint == nil || !s.endpoint.IsDefaultUpload {
		return nil, store.ErrEndpointNotFound
	}
	return s.endpoint, nil
}

func (s *fakeUploadEndpointStore) UpdateHealth(ctx context.Context, id int64, healthy bool, errorMsg string) error {
	return nil
}

func (s *fakeUploadEndpointStore) AutoSyncTargets(ctx context.Context, sourceID int64) ([]*domain.StorageEndpoint, error) {
	return nil, nil
}

func (s *fakeUploadEndpointStore) WithTx(tx *sql.Tx) store.EndpointStore {
	return s
}

// uploadFixture wires an ImageHandler over fakes with a transaction runner
// that discards catalog writes when the wrapped function fails, the way a
// database rollback would.
type uploadFixture struct {
	handler    *ImageHandler
	images     *fakeImageStore
	locations  *fakeLocationStore
	taskStore  *fakeTaskStore
	objects    *storage.MemoryStore
	rolledBack bool
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	ctx := context.Background()

	images := newFakeImageStore()
	locations := newFakeLocationStore()
	taskStore := newFakeTaskStore()
	objects := storage.NewMemoryStore()

	endpoints := &fakeUploadEndpointStore{}
	endpoint := &domain.StorageEndpoint{
		Name:            "upload-primary",
		Role:            domain.EndpointRolePrimary,
		Backend:         domain.EndpointBackendLocal,
		BaseURL:         "https://a.example.com/files",
		IsEnabled:       true,
		IsHealthy:       true,
		IsDefaultUpload: true,
	}
	require.NoError(t, endpoints.CreateEndpoint(ctx, endpoint))

	reg := registry.NewRegistry(endpoints,
		func(ctx context.Context, endpoint *domain.StorageEndpoint) (storage.ObjectStore, error) {
			return objects, nil
		}, slog.Default())
	engine := replication.NewEngine(reg, locations, slog.Default())

	q, err := queue.NewQueue(taskStore, queue.Config{
		MaxWorkers:   1,
		PollInterval: 5 * time.Millisecond,
	}, slog.Default())
	require.NoError(t, err)

	f := &uploadFixture{
		handler:   NewImageHandler(nil, images, locations, reg, engine, q, slog.Default()),
		images:    images,
		locations: locations,
		taskStore: taskStore,
		objects:   objects,
	}
	f.handler.runTx = func(ctx context.Context, fn store.TxFn) error {
		before := snapshotCatalog(images, locations)
		if err := fn(ctx, nil); err != nil {
			f.rolledBack = true
			restoreCatalog(images, locations, before)
			return err
		}
		return nil
	}
	return f
}

type catalogSnapshot struct {
	images    map[int64]*domain.Image
	locations map[[2]int64]*domain.ImageLocation
}

func snapshotCatalog(images *fakeImageStore, locations *fakeLocationStore) catalogSnapshot {
	images.mu.Lock()
	locations.mu.Lock()
	defer images.mu.Unlock()
	defer locations.mu.Unlock()

	snap := catalogSnapshot{
		images:    make(map[int64]*domain.Image, len(images.images)),
		locations: make(map[[2]int64]*domain.ImageLocation, len(locations.locations)),
	}
	for id, image := range images.images {
		copied := *image
		snap.images[id] = &copied
	}
	for key, location := range locations.locations {
		copied := *location
		snap.locations[key] = &copied
	}
	return snap
}

func restoreCatalog(images *fakeImageStore, locations *fakeLocationStore, snap catalogSnapshot) {
	images.mu.Lock()
	locations.mu.Lock()
	defer images.mu.Unlock()
	defer locations.mu.Unlock()

	images.images = snap.images
	locations.locations = snap.locations
}

func multipartUpload(t *testing.T, filename, category string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)

	require.NoError(t, writer.WriteField("category", category))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestImageUpload(t *testing.T) {
	t.Parallel()

	f := newUploadFixture(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	f.handler.Upload(rec, multipartUpload(t, "sunset.jpg", "wallpaper", []byte("image-bytes")))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Image)
	assert.Equal(t, "sunset.jpg", resp.Image.Filename)
	assert.Equal(t, "wallpaper", resp.Image.CategoryCode)
	assert.Len(t, resp.TaskIDs, 2)

	hash, _, err := storage.HashReader(bytes.NewReader([]byte("image-bytes")))
	require.NoError(t, err)
	objectKey := storage.ObjectKey("wallpaper", hash, ".jpg")

	body, err := f.objects.Get(ctx, objectKey)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, []byte("image-bytes"), data)

	primary, err := f.locations.GetPrimary(ctx, resp.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, objectKey, primary.ObjectKey)
	assert.Equal(t, domain.SyncStatusSynced, primary.SyncStatus)

	counts, err := f.taskStore.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
}

func TestImageUploadRollsBackOnStorageFailure(t *testing.T) {
	t.Parallel()

	f := newUploadFixture(t)
	f.objects.FailPut = errors.New("connection refused")

	rec := httptest.NewRecorder()
	f.handler.Upload(rec, multipartUpload(t, "sunset.jpg", "wallpaper", []byte("image-bytes")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, f.rolledBack)

	// The failed object write took the catalog row down with it: no image,
	// no location, no follow-up tasks.
	assert.Zero(t, f.images.count())
	assert.Zero(t, f.locations.count())
	assert.Zero(t, f.objects.Len())

	counts, err := f.taskStore.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Pending)
}
