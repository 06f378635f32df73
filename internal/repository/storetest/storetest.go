// Пакет storetest — общий набор проверок для реализаций repository.Store.
// Каждая реализация вызывает Run из своего _test.go.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// Factory создаёт пустое хранилище для одного теста.
type Factory func(t *testing.T) repository.Store

// Run запускает все проверки против хранилища из factory.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory(t)) })
	t.Run("ListScopesAndOrders", func(t *testing.T) { testListScopesAndOrders(t, factory(t)) })
	t.Run("ListQueryFilter", func(t *testing.T) { testListQueryFilter(t, factory(t)) })
	t.Run("SetMarked", func(t *testing.T) { testSetMarked(t, factory(t)) })
	t.Run("DeleteCascadesFavorites", func(t *testing.T) { testDeleteCascadesFavorites(t, factory(t)) })
	t.Run("ConditionalDelete", func(t *testing.T) { testConditionalDelete(t, factory(t)) })
	t.Run("ToggleFavorite", func(t *testing.T) { testToggleFavorite(t, factory(t)) })
	t.Run("ToggleRejectsForeignSpace", func(t *testing.T) { testToggleRejectsForeignSpace(t, factory(t)) })
	t.Run("ConcurrentToggleConverges", func(t *testing.T) { testConcurrentToggle(t, factory(t)) })
	t.Run("ListMarkedBefore", func(t *testing.T) { testListMarkedBefore(t, factory(t)) })
}

// baseTime — точность микросекунд совпадает с timestamptz.
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFile(space, name string, createdAt time.Time) *model.FileRecord {
	return &model.FileRecord{
		ID:         uuid.NewString(),
		SpaceID:    space,
		UploaderID: "user-1",
		Name:       name,
		Type:       model.ContentTypeCSV,
		ContentRef: "blob-" + uuid.NewString(),
		CreatedAt:  createdAt,
	}
}

func mustCreate(t *testing.T, store repository.Store, files ...*model.FileRecord) {
	t.Helper()
	for _, f := range files {
		require.NoError(t, store.Files().Create(context.Background(), f))
	}
}

func ids(files []*model.FileRecord) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.ID)
	}
	return out
}

func testCreateAndGet(t *testing.T, store repository.Store) {
	ctx := context.Background()
	f := newFile("space-a", "report.csv", baseTime)
	mustCreate(t, store, f)

	got, err := store.Files().GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "space-a", got.SpaceID)
	assert.Equal(t, "report.csv", got.Name)
	assert.Equal(t, model.ContentTypeCSV, got.Type)
	assert.Equal(t, f.ContentRef, got.ContentRef)
	assert.False(t, got.MarkedForDeletion)
	assert.Nil(t, got.MarkedAt)
	assert.True(t, got.CreatedAt.Equal(baseTime))

	err = store.Files().Create(ctx, f)
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = store.Files().GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testListScopesAndOrders(t *testing.T, store repository.Store) {
	ctx := context.Background()

	older := newFile("space-a", "older.pdf", baseTime)
	newer := newFile("space-a", "newer.pdf", baseTime.Add(time.Hour))
	tieA := newFile("space-a", "tie-a.pdf", baseTime.Add(30*time.Minute))
	tieB := newFile("space-a", "tie-b.pdf", baseTime.Add(30*time.Minute))
	foreign := newFile("space-b", "foreign.pdf", baseTime.Add(2*time.Hour))
	mustCreate(t, store, older, newer, tieA, tieB, foreign)

	first, second := tieA.ID, tieB.ID
	if second < first {
		first, second = second, first
	}

	got, err := store.Files().List(ctx, "space-a", repository.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, first, second, older.ID}, ids(got))

	// повторный вызов даёт тот же порядок
	again, err := store.Files().List(ctx, "space-a", repository.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, ids(got), ids(again))

	_, err = store.Files().SetMarked(ctx, newer.ID, true, baseTime.Add(3*time.Hour))
	require.NoError(t, err)

	active, err := store.Files().List(ctx, "space-a", repository.ListParams{})
	require.NoError(t, err)
	assert.NotContains(t, ids(active), newer.ID)

	deleted, err := store.Files().List(ctx, "space-a", repository.ListParams{MarkedForDeletion: true})
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID}, ids(deleted))

	empty, err := store.Files().List(ctx, "space-c", repository.ListParams{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testListQueryFilter(t *testing.T, store repository.Store) {
	ctx := context.Background()

	report := newFile("space-a", "report.csv", baseTime)
	q3 := newFile("space-a", "Q3-REPORT.pdf", baseTime.Add(time.Minute))
	photo := newFile("space-a", "photo.png", baseTime.Add(2*time.Minute))
	percent := newFile("space-a", "100% done.csv", baseTime.Add(3*time.Minute))
	underscore := newFile("space-a", "a_b.csv", baseTime.Add(4*time.Minute))
	foreign := newFile("space-b", "report-b.csv", baseTime)
	mustCreate(t, store, report, q3, photo, percent, underscore, foreign)

	tests := []struct {
		query string
		want  []string
	}{
		{"report", []string{q3.ID, report.ID}},
		{"RePoRt", []string{q3.ID, report.ID}},
		{"png", []string{photo.ID}},
		{"%", []string{percent.ID}},
		{"_", []string{underscore.ID}},
		{"missing", []string{}},
	}

	for _, tt := range tests {
		got, err := store.Files().List(ctx, "space-a", repository.ListParams{Query: tt.query})
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.want, ids(got), "query %q", tt.query)
	}
}

func testSetMarked(t *testing.T, store repository.Store) {
	ctx := context.Background()
	f := newFile("space-a", "doc.pdf", baseTime)
	mustCreate(t, store, f)

	firstMark := baseTime.Add(time.Hour)
	marked, err := store.Files().SetMarked(ctx, f.ID, true, firstMark)
	require.NoError(t, err)
	require.True(t, marked.MarkedForDeletion)
	require.NotNil(t, marked.MarkedAt)
	assert.True(t, marked.MarkedAt.Equal(firstMark))

	// повторная пометка не сдвигает marked_at
	again, err := store.Files().SetMarked(ctx, f.ID, true, firstMark.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, again.MarkedAt)
	assert.True(t, again.MarkedAt.Equal(firstMark))

	restored, err := store.Files().SetMarked(ctx, f.ID, false, time.Time{})
	require.NoError(t, err)
	assert.False(t, restored.MarkedForDeletion)
	assert.Nil(t, restored.MarkedAt)

	// восстановление активного файла — no-op
	_, err = store.Files().SetMarked(ctx, f.ID, false, time.Time{})
	require.NoError(t, err)

	_, err = store.Files().SetMarked(ctx, uuid.NewString(), true, firstMark)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testDeleteCascadesFavorites(t *testing.T, store repository.Store) {
	ctx := context.Background()
	f := newFile("space-a", "doc.pdf", baseTime)
	other := newFile("space-a", "other.pdf", baseTime)
	mustCreate(t, store, f, other)

	for _, principal := range []string{"user-1", "user-2"} {
		on, err := store.Favorites().Toggle(ctx, model.Favorite{
			PrincipalID: principal, FileID: f.ID, SpaceID: "space-a", CreatedAt: baseTime,
		})
		require.NoError(t, err)
		require.True(t, on)
	}
	_, err := store.Favorites().Toggle(ctx, model.Favorite{
		PrincipalID: "user-1", FileID: other.ID, SpaceID: "space-a", CreatedAt: baseTime,
	})
	require.NoError(t, err)

	deleted, err := store.Files().Delete(ctx, f.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, f.ContentRef, deleted.ContentRef)

	_, err = store.Files().GetByID(ctx, f.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	favs, err := store.Favorites().ListFileIDs(ctx, "user-1", "space-a")
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, favs)

	favs, err = store.Favorites().ListFileIDs(ctx, "user-2", "space-a")
	require.NoError(t, err)
	assert.Empty(t, favs)

	_, err = store.Files().Delete(ctx, f.ID, nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// отметка на удалённый файл не создаётся
	_, err = store.Favorites().Toggle(ctx, model.Favorite{
		PrincipalID: "user-1", FileID: f.ID, SpaceID: "space-a", CreatedAt: baseTime,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testConditionalDelete(t *testing.T, store repository.Store) {
	ctx := context.Background()
	active := newFile("space-a", "active.pdf", baseTime)
	marked := newFile("space-a", "marked.pdf", baseTime)
	mustCreate(t, store, active, marked)

	markedAt := baseTime.Add(time.Hour)
	_, err := store.Files().SetMarked(ctx, marked.ID, true, markedAt)
	require.NoError(t, err)

	tooEarly := markedAt.Add(-time.Minute)
	_, err = store.Files().Delete(ctx, marked.ID, &tooEarly)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.Files().GetByID(ctx, marked.ID)
	require.NoError(t, err, "запись не должна удаляться до истечения срока")

	cutoff := markedAt.Add(time.Minute)
	_, err = store.Files().Delete(ctx, active.ID, &cutoff)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.Files().GetByID(ctx, active.ID)
	require.NoError(t, err, "активная запись не должна удаляться по условию")

	_, err = store.Files().Delete(ctx, marked.ID, &cutoff)
	require.NoError(t, err)
	_, err = store.Files().GetByID(ctx, marked.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testToggleFavorite(t *testing.T, store repository.Store) {
	ctx := context.Background()
	f := newFile("space-a", "doc.pdf", baseTime)
	mustCreate(t, store, f)

	fav := model.Favorite{PrincipalID: "user-1", FileID: f.ID, SpaceID: "space-a", CreatedAt: baseTime}

	on, err := store.Favorites().Toggle(ctx, fav)
	require.NoError(t, err)
	assert.True(t, on)

	favs, err := store.Favorites().ListFileIDs(ctx, "user-1", "space-a")
	require.NoError(t, err)
	assert.Equal(t, []string{f.ID}, favs)

	// отметки других principal'ов и пространств не видны
	favs, err = store.Favorites().ListFileIDs(ctx, "user-2", "space-a")
	require.NoError(t, err)
	assert.Empty(t, favs)
	favs, err = store.Favorites().ListFileIDs(ctx, "user-1", "space-b")
	require.NoError(t, err)
	assert.Empty(t, favs)

	off, err := store.Favorites().Toggle(ctx, fav)
	require.NoError(t, err)
	assert.False(t, off)

	favs, err = store.Favorites().ListFileIDs(ctx, "user-1", "space-a")
	require.NoError(t, err)
	assert.Empty(t, favs)

	fav.FileID = uuid.NewString()
	_, err = store.Favorites().Toggle(ctx, fav)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testToggleRejectsForeignSpace(t *testing.T, store repository.Store) {
	ctx := context.Background()
	f := newFile("space-a", "doc.pdf", baseTime)
	mustCreate(t, store, f)

	_, err := store.Favorites().Toggle(ctx, model.Favorite{
		PrincipalID: "user-1", FileID: f.ID, SpaceID: "space-b", CreatedAt: baseTime,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	favs, err := store.Favorites().ListFileIDs(ctx, "user-1", "space-b")
	require.NoError(t, err)
	assert.Empty(t, favs)
}

func testConcurrentToggle(t *testing.T, store repository.Store) {
	ctx := context.Background()
	f := newFile("space-a", "doc.pdf", baseTime)
	mustCreate(t, store, f)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Favorites().Toggle(ctx, model.Favorite{
				PrincipalID: "user-1", FileID: f.ID, SpaceID: "space-a", CreatedAt: baseTime,
			})
			if err != nil {
				// исчерпание попыток допустимо, но только как временная ошибка
				assert.True(t, errors.Is(err, repository.ErrTransient), "неожиданная ошибка: %v", err)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	favs, err := store.Favorites().ListFileIDs(ctx, "user-1", "space-a")
	require.NoError(t, err)
	if succeeded%2 == 1 {
		assert.Equal(t, []string{f.ID}, favs, "нечётное число переключений: %d", succeeded)
	} else {
		assert.Empty(t, favs, "чётное число переключений: %d", succeeded)
	}
}

func testListMarkedBefore(t *testing.T, store repository.Store) {
	ctx := context.Background()
	a := newFile("space-a", "a.pdf", baseTime)
	b := newFile("space-b", "b.pdf", baseTime)
	c := newFile("space-a", "c.pdf", baseTime)
	active := newFile("space-a", "active.pdf", baseTime)
	mustCreate(t, store, a, b, c, active)

	_, err := store.Files().SetMarked(ctx, b.ID, true, baseTime.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.Files().SetMarked(ctx, a.ID, true, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = store.Files().SetMarked(ctx, c.ID, true, baseTime.Add(5*time.Hour))
	require.NoError(t, err)

	got, err := store.Files().ListMarkedBefore(ctx, baseTime.Add(3*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, ids(got))

	limited, err := store.Files().ListMarkedBefore(ctx, baseTime.Add(6*time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(limited))
}
