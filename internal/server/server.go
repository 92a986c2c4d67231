package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devghori1264/agrox/internal/ledger"
	"github.com/devghori1264/agrox/internal/metrics"
	"github.com/devghori1264/agrox/internal/models"
	"github.com/devghori1264/agrox/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventPublisher receives an event for every committed mutation.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

// Server hosts the ledger: it loads records, runs one ledger operation per
// storage transaction and persists the result.
type Server struct {
	store    storage.Store
	log      *zap.Logger
	events   EventPublisher
	transfer ledger.Transferer
	metrics  *metrics.Recorder
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string

	// every mutation runs under writeMu so ledger operations never interleave.
	writeMu sync.Mutex

	mu sync.RWMutex
	// in-memory cache of machines to avoid hot DB on reads; persisted in store.
	cache map[string]*models.MachineRecord
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

func WithEvents(p EventPublisher) Option { return func(s *Server) { s.events = p } }

func WithTransferer(t ledger.Transferer) Option { return func(s *Server) { s.transfer = t } }

func WithMetrics(r *metrics.Recorder) Option { return func(s *Server) { s.metrics = r } }

func WithTracer(t trace.Tracer) Option { return func(s *Server) { s.tracer = t } }

func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New creates a new server instance.
func New(store storage.Store, opts ...Option) *Server {
	s := &Server{
		store: store,
		cache: make(map[string]*models.MachineRecord),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/devghori1264/agrox/internal/server")
	}
	if s.transfer == nil {
		s.transfer = ledger.NewLogTransferer(s.log)
	}
	return s
}

// Initialize creates the registry with the given authority.
func (s *Server) Initialize(ctx context.Context, authority models.Identity) (*models.Registry, error) {
	var reg *models.Registry
	err := s.mutate(ctx, "initialize", authority, func(tx storage.Tx, env ledger.Env) (*models.MachineRecord, error) {
		if _, err := tx.Registry(); err == nil {
			return nil, storage.ErrAlreadyInitialized
		} else if !errors.Is(err, storage.ErrNotInitialized) {
			return nil, err
		}
		var err error
		reg, err = ledger.Initialize(env, authority)
		if err != nil {
			return nil, err
		}
		return nil, tx.PutRegistry(reg)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("registry initialized", zap.String("authority", string(authority)))
	return reg, nil
}

// RegisterMachine creates a machine owned by caller.
func (s *Server) RegisterMachine(ctx context.Context, caller models.Identity, machineID string) (*models.MachineRecord, error) {
	var m *models.MachineRecord
	var count uint64
	err := s.mutate(ctx, "register_machine", caller, func(tx storage.Tx, env ledger.Env) (*models.MachineRecord, error) {
		reg, err := tx.Registry()
		if err != nil {
			return nil, err
		}
		m, err = ledger.RegisterMachine(env, reg, s.newID(), machineID)
		if err != nil {
			return nil, err
		}
		count = reg.MachineCount
		if err := tx.PutMachine(m); err != nil {
			return nil, err
		}
		return m, tx.PutRegistry(reg)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SetMachines(count)
	s.publish(ctx, models.Event{Type: models.EventMachineRegistered, Caller: caller, Machine: m.ID, MachineID: m.MachineID})
	return m.Clone(), nil
}

// StartMachine marks a machine active. Only the owner may do this.
func (s *Server) StartMachine(ctx context.Context, caller models.Identity, machineID string) (*models.MachineRecord, error) {
	return s.setActive(ctx, "start_machine", caller, machineID, ledger.StartMachine, models.EventMachineStarted)
}

// StopMachine marks a machine inactive. Only the owner may do this.
func (s *Server) StopMachine(ctx context.Context, caller models.Identity, machineID string) (*models.MachineRecord, error) {
	return s.setActive(ctx, "stop_machine", caller, machineID, ledger.StopMachine, models.EventMachineStopped)
}

func (s *Server) setActive(ctx context.Context, op string, caller models.Identity, machineID string,
	apply func(ledger.Env, *models.MachineRecord) error, event string) (*models.MachineRecord, error) {
	var m *models.MachineRecord
	err := s.mutate(ctx, op, caller, func(tx storage.Tx, env ledger.Env) (*models.MachineRecord, error) {
		_, machine, err := s.loadMachine(tx, machineID)
		if err != nil {
			return nil, err
		}
		if err := apply(env, machine); err != nil {
			return nil, err
		}
		m = machine
		return m, tx.PutMachine(m)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.Event{Type: event, Caller: caller, Machine: m.ID, MachineID: m.MachineID})
	return m.Clone(), nil
}

// UploadData stores a reading for an active machine and credits its owner.
func (s *Server) UploadData(ctx context.Context, caller models.Identity, machineID string, temperature, humidity float64, imageURL *string) (*models.ReadingRecord, error) {
	var r *models.ReadingRecord
	var m *models.MachineRecord
	err := s.mutate(ctx, "upload_data", caller, func(tx storage.Tx, env ledger.Env) (*models.MachineRecord, error) {
		reg, machine, err := s.loadMachine(tx, machineID)
		if err != nil {
			return nil, err
		}
		r, err = ledger.UploadData(env, reg, machine, s.newID(), temperature, humidity, imageURL)
		if err != nil {
			return nil, err
		}
		m = machine
		if err := tx.PutReading(r); err != nil {
			return nil, err
		}
		if err := tx.PutMachine(m); err != nil {
			return nil, err
		}
		return m, tx.PutRegistry(reg)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Upload(r.HasImage(), ledger.UploadRewardFor(r.HasImage()))
	s.publish(ctx, models.Event{
		Type:      models.EventDataUploaded,
		Caller:    caller,
		Machine:   m.ID,
		MachineID: m.MachineID,
		Reading:   r.ID,
		Amount:    ledger.UploadRewardFor(r.HasImage()),
	})
	return r.Clone(), nil
}

// UseData records one consumption of a reading. The machine credited is the
// one the reading points back to.
func (s *Server) UseData(ctx context.Context, caller models.Identity, readingID string) (*models.ReadingRecord, error) {
	var r *models.ReadingRecord
	var m *models.MachineRecord
	err := s.mutate(ctx, "use_data", caller, func(tx storage.Tx, env ledger.Env) (*models.MachineRecord, error) {
		reg, err := tx.Registry()
		if err != nil {
			return nil, err
		}
		r, err = tx.Reading(readingID)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", readingID, err)
		}
		m, err = tx.Machine(r.Machine)
		if err != nil {
			return nil, fmt.Errorf("machine of reading %q: %w", readingID, err)
		}
		if err := ledger.UseData(env, reg, r, m); err != nil {
			return nil, err
		}
		if err := tx.PutReading(r); err != nil {
			return nil, err
		}
		if err := tx.PutMachine(m); err != nil {
			return nil, err
		}
		return m, tx.PutRegistry(reg)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Accrued(ledger.UsageReward)
	s.publish(ctx, models.Event{
		Type:      models.EventDataUsed,
		Caller:    caller,
		Machine:   m.ID,
		MachineID: m.MachineID,
		Reading:   r.ID,
		Amount:    ledger.UsageReward,
	})
	return r.Clone(), nil
}

// ClaimRewards pays the machine's balance out to its owner and returns the
// amount paid.
func (s *Server) ClaimRewards(ctx context.Context, caller models.Identity, machineID string) (uint64, error) {
	var m *models.MachineRecord
	var amount uint64
	err := s.mutate(ctx, "claim_rewards", caller, func(tx storage.Tx, env ledger.Env) (*models.MachineRecord, error) {
		_, machine, err := s.loadMachine(tx, machineID)
		if err != nil {
			return nil, err
		}
		amount, err = ledger.ClaimRewards(ctx, env, machine, s.transfer)
		if err != nil {
			return nil, err
		}
		m = machine
		return m, tx.PutMachine(m)
	})
	if err != nil {
		return 0, err
	}
	s.metrics.Claimed(amount)
	s.publish(ctx, models.Event{Type: models.EventRewardsClaimed, Caller: caller, Machine: m.ID, MachineID: m.MachineID, Amount: amount})
	return amount, nil
}

// SyncMetrics seeds gauges from stored state, so they are right after a
// restart before any new mutation.
func (s *Server) SyncMetrics(ctx context.Context) error {
	reg, err := s.Registry(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetMachines(reg.MachineCount)
	return nil
}

// Registry returns a snapshot of the registry.
func (s *Server) Registry(ctx context.Context) (*models.Registry, error) {
	var reg *models.Registry
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		reg, err = tx.Registry()
		return err
	})
	return reg, err
}

// Machine fetches a machine by its human-readable machine ID.
func (s *Server) Machine(ctx context.Context, machineID string) (*models.MachineRecord, error) {
	var id string
	err := s.store.View(ctx, func(tx storage.Tx) error {
		reg, err := tx.Registry()
		if err != nil {
			return err
		}
		var ok bool
		if id, ok = reg.Lookup(machineID); !ok {
			return fmt.Errorf("machine %q: %w", machineID, storage.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.MachineRecord(ctx, id)
}

// MachineRecord fetches a machine by record identity.
func (s *Server) MachineRecord(ctx context.Context, id string) (*models.MachineRecord, error) {
	m, err := s.getMachineCached(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Server) Reading(ctx context.Context, id string) (*models.ReadingRecord, error) {
	var r *models.ReadingRecord
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		r, err = tx.Reading(id)
		return err
	})
	return r, err
}

// Readings lists the readings uploaded for a machine.
func (s *Server) Readings(ctx context.Context, machineID string) ([]*models.ReadingRecord, error) {
	var out []*models.ReadingRecord
	err := s.store.View(ctx, func(tx storage.Tx) error {
		_, m, err := s.loadMachine(tx, machineID)
		if err != nil {
			return err
		}
		out, err = tx.Readings(m.ID)
		return err
	})
	return out, err
}

// mutate runs fn as one ledger operation inside one storage transaction.
// The machine fn returns, if any, replaces the cached copy once the
// transaction has committed, still under writeMu so the cache follows
// commit order.
func (s *Server) mutate(ctx context.Context, op string, caller models.Identity, fn func(storage.Tx, ledger.Env) (*models.MachineRecord, error)) (err error) {
	ctx, span := s.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.String("ledger.operation", op),
		attribute.String("ledger.caller", string(caller)),
	))
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.log.Debug("operation rejected", zap.String("op", op), zap.String("caller", string(caller)), zap.Error(err))
		}
		span.End()
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	env := ledger.Env{Caller: caller, Now: s.now()}
	var touched *models.MachineRecord
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		touched, err = fn(tx, env)
		return err
	})
	if err == nil && touched != nil {
		s.cacheMachine(touched)
	}
	return err
}

func (s *Server) loadMachine(tx storage.Tx, machineID string) (*models.Registry, *models.MachineRecord, error) {
	reg, err := tx.Registry()
	if err != nil {
		return nil, nil, err
	}
	id, ok := reg.Lookup(machineID)
	if !ok {
		return nil, nil, fmt.Errorf("machine %q: %w", machineID, storage.ErrNotFound)
	}
	m, err := tx.Machine(id)
	if err != nil {
		return nil, nil, fmt.Errorf("machine %q: %w", machineID, err)
	}
	return reg, m, nil
}

func (s *Server) publish(ctx context.Context, ev models.Event) {
	if s.events == nil {
		return
	}
	ev.Time = s.now()
	if err := s.events.PublishEvent(ctx, ev); err != nil {
		s.log.Warn("publish event failed", zap.String("event", ev.Type), zap.Error(err))
	}
}

// getMachineCached returns a machine (from cache or store).
func (s *Server) getMachineCached(ctx context.Context, id string) (*models.MachineRecord, error) {
	s.mu.RLock()
	if m, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	var m *models.MachineRecord
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		m, err = tx.Machine(id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cacheIfAbsent(m)
	return m, nil
}

func (s *Server) cacheMachine(m *models.MachineRecord) {
	s.mu.Lock()
	s.cache[m.ID] = m.Clone()
	s.mu.Unlock()
}

// cacheIfAbsent fills the cache from a read. A copy already cached by a
// committed write is newer and wins.
func (s *Server) cacheIfAbsent(m *models.MachineRecord) {
	s.mu.Lock()
	if _, ok := s.cache[m.ID]; !ok {
		s.cache[m.ID] = m.Clone()
	}
	s.mu.Unlock()
}
