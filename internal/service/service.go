// Package service orchestrates bookings, recurrence rules and the
// propagation jobs behind the HTTP surface and the scheduler.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"courtbook/internal/clock"
	"courtbook/internal/config"
	"courtbook/internal/events"
	"courtbook/internal/lifecycle"
	"courtbook/internal/model"
	"courtbook/internal/propagation"
	"courtbook/internal/slots"
)

// Store is the full repository the service works against. Both the SQLite
// and the in-memory stores satisfy it.
type Store interface {
	propagation.Store
	propagation.SweepStore

	Ping(ctx context.Context) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ListBookingsInRange(ctx context.Context, from, to time.Time) ([]model.Booking, error)
	ListBookingsByRule(ctx context.Context, ruleID string, from time.Time) ([]model.Booking, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	UpdateBooking(ctx context.Context, b *model.Booking) error
	DeleteBookingsByRule(ctx context.Context, ruleID string) (int, error)

	GetRule(ctx context.Context, id string) (*model.Rule, error)
	InsertRule(ctx context.Context, r *model.Rule) error
	UpdateRule(ctx context.Context, r *model.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// TransitionRecorder keeps the audit trail of lifecycle changes.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, t model.Transition) error
}

// Options carries the business policy.
type Options struct {
	Courts          int
	Tick            time.Duration
	Durations       []int
	Hold            time.Duration
	HorizonDays     int
	LegacyChainDays int
	Hours           slots.Hours
}

// OptionsFromConfig maps the business section of the config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Courts:          cfg.Business.Courts,
		Tick:            cfg.SlotDuration(),
		Durations:       cfg.Business.Durations,
		Hold:            cfg.HoldDuration(),
		HorizonDays:     cfg.Business.HorizonDays,
		LegacyChainDays: cfg.Business.LegacyChainDays,
		Hours:           slots.Hours{Open: cfg.Business.OpenTime, Close: cfg.Business.CloseTime},
	}
}

// Service is the orchestrator.
type Service struct {
	store     Store
	clock     clock.Clock
	opts      Options
	allocator *slots.Allocator
	generator *slots.Generator
	machine   *lifecycle.Machine
	engine    *propagation.Engine
	runner    *propagation.Runner
	sweeper   *propagation.Sweeper
	bus       *events.EventBus
	recorder  TransitionRecorder
	newID     func() string
	logger    zerolog.Logger
}

// New wires the engine components over store. bus may be nil.
func New(store Store, clk clock.Clock, opts Options, bus *events.EventBus, logger *zerolog.Logger) *Service {
	if opts.Tick <= 0 {
		opts.Tick = slots.DefaultTick
	}
	if len(opts.Durations) == 0 {
		opts.Durations = []int{60, 90, 120}
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 15
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "service").Logger()
	}

	engine := propagation.NewEngine(store, clk, opts.Tick, logger)
	allocator := slots.NewAllocator(opts.Courts)

	var publisher propagation.Publisher
	if bus != nil {
		publisher = bus
	}

	s := &Service{
		store:     store,
		clock:     clk,
		opts:      opts,
		allocator: allocator,
		generator: slots.NewGenerator(allocator, opts.Tick),
		machine:   lifecycle.NewMachine(),
		engine:    engine,
		runner:    propagation.NewRunner(store, engine, propagation.NewReconciler(store, logger), clk, opts.HorizonDays, logger),
		sweeper:   propagation.NewSweeper(store, clk, publisher, logger),
		bus:       bus,
		newID:     uuid.NewString,
		logger:    l,
	}
	if r, ok := store.(TransitionRecorder); ok {
		s.recorder = r
	}

	if bus != nil && opts.LegacyChainDays > 0 {
		bus.Subscribe(events.BookingPresent, s.chainNextOccurrence)
	}

	return s
}

// Location is the business time zone.
func (s *Service) Location() *time.Location {
	return s.clock.Now().Location()
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RunPropagation dedupes and ensures the rolling window. Per-item failures
// are reported through the result and a PropagationFailure event.
func (s *Service) RunPropagation(ctx context.Context, opts propagation.Options) (propagation.Result, error) {
	res, err := s.runner.RunHorizon(ctx, opts)
	if err != nil {
		return res, err
	}
	if len(res.Errors) > 0 {
		s.publish(events.Event{Type: events.PropagationFailure, Errors: res.Errors})
	}
	return res, nil
}

// Sweep marks today's finished bookings present.
func (s *Service) Sweep(ctx context.Context) propagation.SweepResult {
	return s.sweeper.Sweep(ctx)
}

func (s *Service) publish(event events.Event) {
	if s.bus == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}
	s.bus.Publish(event)
}

func (s *Service) durationAllowed(minutes int) bool {
	for _, d := range s.opts.Durations {
		if d == minutes {
			return true
		}
	}
	return false
}
