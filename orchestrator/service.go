// Package orchestrator sequences identity resolution, the profile record and
// the avatar object into the user-facing profile flows.
//
// A Service is built once at process start and shared. Mutating flows run one
// at a time; concurrent FetchUser calls for the same identity share a single
// load.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gurre/cognito-profile/avatar"
	"github.com/gurre/cognito-profile/devicestore"
	"github.com/gurre/cognito-profile/errs"
	"github.com/gurre/cognito-profile/identity"
	"github.com/gurre/cognito-profile/metrics"
	"github.com/gurre/cognito-profile/profile"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// IdentityResolver produces federated identities. *identity.Resolver
// implements it.
type IdentityResolver interface {
	Resolve(ctx context.Context, p identity.Provider, opts identity.ResolveOptions) (identity.Identity, error)
	ClearKeychain(ctx context.Context) error
}

// Options configure a Service.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// StrictPreconditions turns precondition violations into panics. Meant
	// for development builds where a violation is a caller bug.
	StrictPreconditions bool
}

// Service runs the profile flows.
type Service struct {
	resolver IdentityResolver
	profiles profile.Store
	avatars  avatar.Store
	device   devicestore.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	strict   bool

	// mu serializes mutating flows and the load step of fetches.
	mu      sync.Mutex
	fetches singleflight.Group

	stateMu sync.RWMutex
	current *profile.Profile
	pending *identity.Identity
	state   State
	flowID  string
}

// New creates a Service. The device store holds the current identity id
// under devicestore.KeyUserID.
func New(resolver IdentityResolver, profiles profile.Store, avatars avatar.Store, device devicestore.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Service{
		resolver: resolver,
		profiles: profiles,
		avatars:  avatars,
		device:   device,
		logger:   logger,
		metrics:  m,
		strict:   opts.StrictPreconditions,
	}
}

// State reports the state of the most recent flow.
func (s *Service) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// LastFlowID returns the id of the most recent flow, or "".
func (s *Service) LastFlowID() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.flowID
}

// CurrentUser returns a copy of the loaded profile, or nil.
func (s *Service) CurrentUser() *profile.Profile {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.current == nil {
		return nil
	}
	p := *s.current
	return &p
}

// HasCurrentUserIdentity reports whether an identity id is persisted on the
// device.
func (s *Service) HasCurrentUserIdentity(ctx context.Context) (bool, error) {
	id, err := s.persistedID(ctx)
	if err != nil {
		return false, err
	}
	return id != "", nil
}

// Metrics returns the service's counters.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Service) setCurrent(p *profile.Profile) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if p == nil {
		s.current = nil
		return
	}
	cp := *p
	s.current = &cp
}

func (s *Service) setPending(id *identity.Identity) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.pending = id
}

func (s *Service) pendingIdentity() *identity.Identity {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.pending
}

func (s *Service) persistedID(ctx context.Context) (string, error) {
	id, err := s.device.Load(ctx, devicestore.KeyUserID)
	if err != nil {
		return "", fmt.Errorf("failed to read current identity: %w", err)
	}
	return id, nil
}

func (s *Service) persistID(ctx context.Context, id string) error {
	if err := s.device.Save(ctx, devicestore.KeyUserID, id); err != nil {
		return fmt.Errorf("failed to persist current identity: %w", err)
	}
	return nil
}

func (s *Service) forgetID(ctx context.Context) error {
	if err := s.device.Delete(ctx, devicestore.KeyUserID); err != nil {
		return fmt.Errorf("failed to clear current identity: %w", err)
	}
	return nil
}

// flow tracks one run of a flow for logging, metrics and State.
type flow struct {
	s      *Service
	name   string
	start  time.Time
	logger *zap.Logger
}

func (s *Service) begin(name string) *flow {
	id := uuid.NewString()
	f := &flow{
		s:      s,
		name:   name,
		start:  time.Now(),
		logger: s.logger.With(zap.String("flow", name), zap.String("flow_id", id)),
	}

	s.stateMu.Lock()
	s.flowID = id
	s.state = Idle
	s.stateMu.Unlock()

	s.metrics.FlowStarted()
	f.logger.Debug("flow started")
	return f
}

func (f *flow) enter(st State) {
	f.s.stateMu.Lock()
	f.s.state = st
	f.s.stateMu.Unlock()
	f.logger.Debug("flow state changed", zap.Stringer("state", st))
}

// finish records the outcome of the flow and returns err unchanged.
func (f *flow) finish(err error) error {
	elapsed := time.Since(f.start)
	f.s.metrics.RecordFlowTime(elapsed)

	if err != nil {
		f.enter(Failed)
		f.s.metrics.FlowFailed()
		fields := []zap.Field{
			zap.Duration("elapsed", elapsed),
			zap.String("kind", string(errs.KindOf(err))),
		}
		if code := errs.APICode(err); code != "" {
			fields = append(fields,
				zap.String("aws_code", code),
				zap.Bool("client_fault", errs.IsClientFault(err)),
			)
		}
		f.logger.Warn("flow failed", append(fields, zap.Error(err))...)
		return err
	}
	f.enter(Done)
	f.logger.Info("flow completed", zap.Duration("elapsed", elapsed))
	return nil
}

// fail ends the flow with a precondition violation. In strict mode the flow
// is marked failed before the panic propagates.
func (f *flow) fail(op, format string, args ...any) error {
	err := errs.Precondition(op, format, args...)
	if f.s.strict {
		_ = f.finish(err)
		panic(err)
	}
	return f.finish(err)
}
