package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

func markAt(t *testing.T, env *testEnv, f *model.FileRecord, at time.Time) {
	t.Helper()
	prev := env.files.now
	env.files.now = func() time.Time { return at }
	defer func() { env.files.now = prev }()
	if _, err := env.files.MarkForDeletion(context.Background(), admin, f.ID); err != nil {
		t.Fatalf("MarkForDeletion: %v", err)
	}
}

func TestSweeper_PurgesOnlyExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := mustCreateFile(t, env, member, "old.csv", model.ContentTypeCSV)
	recent := mustCreateFile(t, env, member, "recent.csv", model.ContentTypeCSV)
	active := mustCreateFile(t, env, outsider, "active.csv", model.ContentTypeCSV)
	if _, err := env.favorites.Toggle(ctx, member, old.ID); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	markAt(t, env, old, now.Add(-48*time.Hour))
	markAt(t, env, recent, now.Add(-time.Hour))

	sweeper := NewPurgeSweeper(env.store.Files(), env.files, nil, time.Hour, 24*time.Hour, 100, testLogger())
	sweeper.now = func() time.Time { return now }

	result, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Candidates != 1 || result.Purged != 1 || result.Errors != 0 {
		t.Errorf("результат = %+v, ожидается 1 кандидат и 1 удаление", result)
	}

	if _, err := env.store.Files().GetByID(ctx, old.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("просроченный файл не удалён: %v", err)
	}
	for _, f := range []*model.FileRecord{recent, active} {
		if _, err := env.store.Files().GetByID(ctx, f.ID); err != nil {
			t.Errorf("файл %s удалён раньше срока: %v", f.Name, err)
		}
	}
	favs, _ := env.favorites.ListForSpace(ctx, member)
	if len(favs) != 0 {
		t.Errorf("избранное удалённого файла осталось: %v", favs)
	}

	// повторный проход — кандидатов нет
	result, err = sweeper.RunOnce(ctx)
	if err != nil || result.Candidates != 0 {
		t.Errorf("повторный проход: %+v, %v", result, err)
	}
}

func TestSweeper_SkipsRestoredCandidate(t *testing.T) {
	// кандидат восстановлен между выборкой и удалением
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	markedAt := now.Add(-48 * time.Hour)
	rec := &model.FileRecord{ID: "f1", SpaceID: "org-s", MarkedForDeletion: true, MarkedAt: &markedAt}

	files := &mockFileRepo{
		listMarkedFn: func(context.Context, time.Time, int) ([]*model.FileRecord, error) {
			return []*model.FileRecord{rec}, nil
		},
		getByIDFn: func(context.Context, string) (*model.FileRecord, error) { return rec, nil },
		deleteFn: func(_ context.Context, _ string, markedBefore *time.Time) (*model.FileRecord, error) {
			if markedBefore == nil {
				t.Error("очистка вызвала безусловное удаление")
			}
			return nil, repository.ErrNotFound
		},
	}
	svc := NewFileService(files, nil, testLogger())
	sweeper := NewPurgeSweeper(files, svc, nil, time.Hour, 24*time.Hour, 10, testLogger())
	sweeper.now = func() time.Time { return now }

	result, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Skipped != 1 || result.Purged != 0 || result.Errors != 0 {
		t.Errorf("результат = %+v, ожидается 1 пропуск", result)
	}
}

func TestSweeper_CountsErrors(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := []*model.FileRecord{{ID: "f1", SpaceID: "s1"}, {ID: "f2", SpaceID: "s2"}}
	files := &mockFileRepo{
		listMarkedFn: func(_ context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error) {
			if !cutoff.Equal(now.Add(-24*time.Hour)) || limit != 10 {
				t.Errorf("cutoff=%v limit=%d", cutoff, limit)
			}
			return recs, nil
		},
		getByIDFn: func(_ context.Context, id string) (*model.FileRecord, error) {
			if id == "f1" {
				return nil, repository.ErrTransient
			}
			return recs[1], nil
		},
		deleteFn: func(context.Context, string, *time.Time) (*model.FileRecord, error) {
			return recs[1], nil
		},
	}
	svc := NewFileService(files, nil, testLogger())
	sweeper := NewPurgeSweeper(files, svc, nil, time.Hour, 24*time.Hour, 10, testLogger())
	sweeper.now = func() time.Time { return now }

	result, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Candidates != 2 || result.Purged != 1 || result.Errors != 1 {
		t.Errorf("результат = %+v", result)
	}
}

func TestSweeper_ListFailure(t *testing.T) {
	files := &mockFileRepo{
		listMarkedFn: func(context.Context, time.Time, int) ([]*model.FileRecord, error) {
			return nil, repository.ErrTransient
		},
	}
	sweeper := NewPurgeSweeper(files, NewFileService(files, nil, testLogger()), nil, time.Hour, time.Hour, 10, testLogger())

	if _, err := sweeper.RunOnce(context.Background()); !errors.Is(err, ErrTransient) {
		t.Errorf("RunOnce = %v, ожидается ErrTransient", err)
	}
}

func TestSweeper_LockBusy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	other := NewRedisLockerWithClient(client, "fv:sweep", time.Minute)
	ok, err := other.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("Acquire: %v, %v", ok, err)
	}

	files := &mockFileRepo{
		listMarkedFn: func(context.Context, time.Time, int) ([]*model.FileRecord, error) {
			t.Error("проход выполнен без блокировки")
			return nil, nil
		},
	}
	lock := NewRedisLockerWithClient(client, "fv:sweep", time.Minute)
	sweeper := NewPurgeSweeper(files, NewFileService(files, nil, testLogger()), lock, time.Hour, time.Hour, 10, testLogger())

	result, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !result.LockBusy {
		t.Errorf("результат = %+v, ожидается LockBusy", result)
	}
}

func TestSweeper_ReleasesLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	files := &mockFileRepo{
		listMarkedFn: func(context.Context, time.Time, int) ([]*model.FileRecord, error) {
			if !mr.Exists("fv:sweep") {
				t.Error("блокировка не захвачена на время прохода")
			}
			return nil, nil
		},
	}
	lock := NewRedisLockerWithClient(client, "fv:sweep", time.Minute)
	sweeper := NewPurgeSweeper(files, NewFileService(files, nil, testLogger()), lock, time.Hour, time.Hour, 10, testLogger())

	if _, err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if mr.Exists("fv:sweep") {
		t.Error("блокировка не освобождена после прохода")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	calls := make(chan struct{}, 10)
	files := &mockFileRepo{
		listMarkedFn: func(context.Context, time.Time, int) ([]*model.FileRecord, error) {
			select {
			case calls <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	sweeper := NewPurgeSweeper(files, NewFileService(files, nil, testLogger()), nil, 10*time.Millisecond, time.Hour, 10, testLogger())

	sweeper.Start(context.Background())
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("очистка не запустилась по тикеру")
	}
	sweeper.Stop()
}

func TestSweeper_PassBoundedByLockTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	candidates := []*model.FileRecord{
		{ID: "f1", SpaceID: admin.SpaceID, MarkedForDeletion: true},
		{ID: "f2", SpaceID: admin.SpaceID, MarkedForDeletion: true},
	}
	files := &mockFileRepo{
		listMarkedFn: func(context.Context, time.Time, int) ([]*model.FileRecord, error) {
			return candidates, nil
		},
		// удаление зависает до истечения срока прохода
		getByIDFn: func(ctx context.Context, _ string) (*model.FileRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	lock := NewRedisLockerWithClient(client, "fv:sweep", 100*time.Millisecond)
	sweeper := NewPurgeSweeper(files, NewFileService(files, nil, testLogger()), lock, time.Hour, time.Hour, 10, testLogger())

	done := make(chan *SweepResult, 1)
	go func() {
		result, err := sweeper.RunOnce(context.Background())
		if err != nil {
			t.Errorf("RunOnce: %v", err)
		}
		done <- result
	}()

	select {
	case result := <-done:
		if result == nil || result.Errors != 1 || result.Purged != 0 {
			t.Errorf("результат = %+v, ожидается 1 ошибка и остановка прохода", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("проход не остановлен по сроку блокировки")
	}
	if mr.Exists("fv:sweep") {
		t.Error("блокировка не освобождена после прерванного прохода")
	}
}
