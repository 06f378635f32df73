// sweeper.go — периодическая безвозвратная очистка помеченных файлов.
//
// Файл удаляется, если он помечен на удаление дольше срока хранения
// (FV_PURGE_RETENTION). Каждое удаление проходит через FileService.PurgeIfExpired
// от имени системного principal'а с ролью admin в пространстве файла,
// поэтому политика доступа применяется так же, как к пользователю.
//
// Запускается горутиной с тикером (FV_PURGE_ENABLED) или однократно
// из cmd/filevault-sweep по внешнему расписанию.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/repository"
)

// SystemPrincipalID — principal, от имени которого работает очистка.
const SystemPrincipalID = "system:purge-sweeper"

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_sweep_runs_total",
		Help: "Общее количество проходов очистки.",
	})
	sweepPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_sweep_purged_total",
		Help: "Общее количество файлов, удалённых очисткой.",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_sweep_errors_total",
		Help: "Общее количество ошибок удаления при очистке.",
	})
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fv_sweep_duration_seconds",
		Help:    "Длительность прохода очистки в секундах.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — результат одного прохода очистки.
type SweepResult struct {
	// Candidates — записи, помеченные дольше срока хранения
	Candidates int
	// Purged — удалено
	Purged int
	// Skipped — уже удалены или восстановлены к моменту удаления
	Skipped int
	// Errors — ошибки удаления
	Errors int
	// LockBusy — проход пропущен: очистку выполняет другая реплика
	LockBusy bool
	// Duration — длительность прохода
	Duration time.Duration
}

// PurgeSweeper — сервис очистки.
type PurgeSweeper struct {
	files     repository.FileRepository
	purger    *FileService
	lock      SweepLock
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельного RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPurgeSweeper создаёт сервис очистки. lock может быть nil —
// тогда проходы не координируются между репликами.
func NewPurgeSweeper(
	files repository.FileRepository,
	purger *FileService,
	lock SweepLock,
	interval time.Duration,
	retention time.Duration,
	batchSize int,
	logger *slog.Logger,
) *PurgeSweeper {
	return &PurgeSweeper{
		files:     files,
		purger:    purger,
		lock:      lock,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "purge_sweeper")),
	}
}

// Start запускает фоновую горутину очистки.
func (s *PurgeSweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Очистка запущена",
		slog.String("interval", s.interval.String()),
		slog.String("retention", s.retention.String()),
		slog.Int("batch_size", s.batchSize),
	)
}

// Stop останавливает фоновую очистку и дожидается завершения текущего прохода.
func (s *PurgeSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Очистка остановлена")
}

func (s *PurgeSweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Проход очистки завершился ошибкой", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один проход: выбирает кандидатов и удаляет их по одному.
// Ошибка возвращается, только если проход не удалось начать.
func (s *PurgeSweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			result.LockBusy = true
			s.logger.Debug("Очистка выполняется другой репликой, проход пропущен")
			return result, nil
		}
		defer func() {
			// освобождаем и при отменённом ctx прохода
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.lock.Release(releaseCtx); err != nil {
				s.logger.Warn("Не удалось освободить блокировку очистки", slog.String("error", err.Error()))
			}
		}()

		// после истечения блокировки проход может начать другая реплика
		if ttl := s.lock.TTL(); ttl > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, ttl)
			defer cancel()
		}
	}

	cutoff := s.now().Add(-s.retention)
	candidates, err := s.files.ListMarkedBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("выборка кандидатов на удаление: %w", mapRepoError("очистка", err))
	}
	result.Candidates = len(candidates)

	for _, f := range candidates {
		if ctx.Err() != nil {
			s.logger.Warn("Проход очистки прерван",
				slog.Int("remaining", result.Candidates-result.Purged-result.Skipped-result.Errors),
				slog.String("reason", ctx.Err().Error()),
			)
			break
		}
		actor := model.Identity{
			PrincipalID: SystemPrincipalID,
			SpaceID:     f.SpaceID,
			Role:        model.RoleAdmin,
		}
		purged, err := s.purger.PurgeIfExpired(ctx, actor, f.ID, cutoff)
		switch {
		case err != nil:
			result.Errors++
			s.logger.Error("Ошибка удаления файла при очистке",
				slog.String("file_id", f.ID),
				slog.String("error", err.Error()),
			)
		case purged:
			result.Purged++
		default:
			result.Skipped++
		}
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepPurgedTotal.Add(float64(result.Purged))
	sweepErrorsTotal.Add(float64(result.Errors))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Проход очистки завершён",
		slog.Int("candidates", result.Candidates),
		slog.Int("purged", result.Purged),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}
