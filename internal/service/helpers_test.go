package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
	badgerstore "github.com/bigkaa/filevault/internal/repository/badger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBlobs — blob-хранилище, запоминающее удалённые ссылки.
type fakeBlobs struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (b *fakeBlobs) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, ref)
	return b.err
}

func (b *fakeBlobs) deletedRefs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

// mockFileRepo — FileRepository с подменяемыми функциями.
type mockFileRepo struct {
	createFn     func(ctx context.Context, f *model.FileRecord) error
	getByIDFn    func(ctx context.Context, id string) (*model.FileRecord, error)
	listFn       func(ctx context.Context, spaceID string, params repository.ListParams) ([]*model.FileRecord, error)
	setMarkedFn  func(ctx context.Context, id string, marked bool, at time.Time) (*model.FileRecord, error)
	deleteFn     func(ctx context.Context, id string, markedBefore *time.Time) (*model.FileRecord, error)
	listMarkedFn func(ctx context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error)
}

func (m *mockFileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	return m.createFn(ctx, f)
}

func (m *mockFileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockFileRepo) List(ctx context.Context, spaceID string, params repository.ListParams) ([]*model.FileRecord, error) {
	return m.listFn(ctx, spaceID, params)
}

func (m *mockFileRepo) SetMarked(ctx context.Context, id string, marked bool, at time.Time) (*model.FileRecord, error) {
	return m.setMarkedFn(ctx, id, marked, at)
}

func (m *mockFileRepo) Delete(ctx context.Context, id string, markedBefore *time.Time) (*model.FileRecord, error) {
	return m.deleteFn(ctx, id, markedBefore)
}

func (m *mockFileRepo) ListMarkedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error) {
	return m.listMarkedFn(ctx, cutoff, limit)
}

// mockFavoriteRepo — FavoriteRepository с подменяемыми функциями.
type mockFavoriteRepo struct {
	toggleFn      func(ctx context.Context, fav model.Favorite) (bool, error)
	listFileIDsFn func(ctx context.Context, principalID, spaceID string) ([]string, error)
}

func (m *mockFavoriteRepo) Toggle(ctx context.Context, fav model.Favorite) (bool, error) {
	return m.toggleFn(ctx, fav)
}

func (m *mockFavoriteRepo) ListFileIDs(ctx context.Context, principalID, spaceID string) ([]string, error) {
	return m.listFileIDsFn(ctx, principalID, spaceID)
}

// testEnv — сервисы поверх in-memory badger.
type testEnv struct {
	store     *badgerstore.Store
	blobs     *fakeBlobs
	files     *FileService
	favorites *FavoriteService
	query     *QueryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := badgerstore.Open(badgerstore.InMemoryDir, testLogger())
	if err != nil {
		t.Fatalf("открытие хранилища: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	blobs := &fakeBlobs{}
	files := NewFileService(store.Files(), blobs, testLogger())
	// каждая операция получает своё время: порядок выдачи не зависит от id
	files.now = (&testClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}).Now
	return &testEnv{
		store:     store,
		blobs:     blobs,
		files:     files,
		favorites: NewFavoriteService(store.Files(), store.Favorites(), testLogger()),
		query:     NewQueryService(store.Files(), store.Favorites(), testLogger()),
	}
}

// testClock — часы, сдвигающиеся на секунду при каждом вызове.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

var (
	member = model.Identity{PrincipalID: "user-p", SpaceID: "org-s", Role: model.RoleMember}
	admin  = model.Identity{PrincipalID: "user-a", SpaceID: "org-s", Role: model.RoleAdmin}

	// outsider — admin другого пространства
	outsider = model.Identity{PrincipalID: "user-x", SpaceID: "org-t", Role: model.RoleAdmin}
)

func mustCreateFile(t *testing.T, env *testEnv, actor model.Identity, name string, typ model.ContentType) *model.FileRecord {
	t.Helper()
	f, err := env.files.Create(context.Background(), actor, CreateInput{Name: name, Type: typ, ContentRef: "ref-" + name})
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return f
}

func listedIDs(items []model.ListedFile) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.File.ID)
	}
	return out
}
