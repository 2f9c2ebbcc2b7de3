package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRenewSchedule — расписание продления блокировок по умолчанию.
const DefaultRenewSchedule = "@every 30s"

// cronParser — парсер расписаний продления (поддерживает @every).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule проверяет cron-выражение расписания.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid renew schedule %q: %w", spec, err)
	}
	return nil
}

// RenewerConfig — конфигурация Renewer.
type RenewerConfig struct {
	Scheduler *Scheduler
	Schedule  string // cron-выражение (default: "@every 30s")
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Renewer периодически продлевает TTL блокировок, удерживаемых процессом.
//
// Потерянная блокировка (истекла или перехвачена) удаляется из
// локального учёта и логируется: задача продолжает работу, но tenant
// больше не защищён от параллельного развёртывания.
type Renewer struct {
	scheduler *Scheduler
	spec      string
	timeout   time.Duration
	logger    *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

// NewRenewer создаёт Renewer.
func NewRenewer(cfg RenewerConfig) (*Renewer, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = DefaultRenewSchedule
	}
	if err := ValidateSchedule(spec); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Renewer{
		scheduler: cfg.Scheduler,
		spec:      spec,
		timeout:   timeout,
		logger:    logger,
		cron:      cron.New(cron.WithParser(cronParser)),
	}, nil
}

// Start регистрирует задание и запускает cron.
func (r *Renewer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	if _, err := r.cron.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RenewOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule renew: %w", err)
	}

	r.cron.Start()
	r.started = true
	r.logger.Info("lock renewer started", "schedule", r.spec)
	return nil
}

// Stop останавливает cron и ждёт завершения текущего продления.
func (r *Renewer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	<-r.cron.Stop().Done()
	r.started = false
	r.logger.Info("lock renewer stopped")
}

// RenewOnce продлевает все удерживаемые блокировки.
// Возвращает число продлённых и потерянных блокировок.
func (r *Renewer) RenewOnce(ctx context.Context) (renewed, lost int) {
	s := r.scheduler
	for _, l := range s.Held() {
		ok, err := s.backend.Renew(ctx, l.TenantID, l.Owner, s.ttl)
		if err != nil {
			r.logger.Warn("failed to renew lock",
				"tenant_id", l.TenantID,
				"error", err,
			)
			continue
		}
		if !ok {
			lost++
			s.forget(l.TenantID, l.Owner)
			r.logger.Error("tenant lock lost",
				"tenant_id", l.TenantID,
				"owner", l.Owner,
				"plan_id", l.PlanID,
			)
			continue
		}
		renewed++
	}

	if renewed > 0 || lost > 0 {
		r.logger.Debug("locks renewed", "renewed", renewed, "lost", lost)
	}
	return renewed, lost
}
