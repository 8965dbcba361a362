// Package integration runs the profile flows end to end over a real device
// store file and in-memory AWS backends, across simulated process restarts.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gurre/cognito-profile/avatar"
	"github.com/gurre/cognito-profile/config"
	"github.com/gurre/cognito-profile/devicestore"
	"github.com/gurre/cognito-profile/identity"
	"github.com/gurre/cognito-profile/internal/fake"
	"github.com/gurre/cognito-profile/metrics"
	"github.com/gurre/cognito-profile/orchestrator"
	"github.com/gurre/cognito-profile/profile"
	"go.uber.org/zap"
)

// backends outlive a process; the device store file is reopened per process.
type backends struct {
	cfg     *config.Config
	cognito *fake.CognitoIdentityClient
	ddb     *fake.DynamoDBClient
	s3      *fake.S3Client
}

// process is one run of the application.
type process struct {
	svc      *orchestrator.Service
	resolver *identity.Resolver
	device   devicestore.Store
	metrics  *metrics.Metrics
}

func newBackends(t *testing.T) *backends {
	t.Helper()
	cfg := &config.Config{
		TableName:      "profiles",
		AvatarBucket:   "profile-avatars",
		IdentityPoolID: "us-west-2:6f3c1a52-0d5e-4b9b-9d0b-3f4a6c1e2b7d",
		Region:         "us-west-2",
		DeviceStore:    "bolt://" + filepath.ToSlash(filepath.Join(t.TempDir(), "device.db")),
		LogLevel:       "debug",
		Timeout:        5 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid config: %v", err)
	}
	return &backends{
		cfg:     cfg,
		cognito: fake.NewCognitoIdentityClient(cfg.Region),
		ddb:     fake.NewDynamoDBClient(profile.HashKey),
		s3:      fake.NewS3Client(),
	}
}

func (b *backends) start(t *testing.T) *process {
	t.Helper()
	device, err := devicestore.Open(b.cfg.DeviceStore)
	if err != nil {
		t.Fatalf("Failed to open device store: %v", err)
	}

	logger := zap.NewNop()
	resolver := identity.NewResolver(b.cognito, b.cfg.IdentityPoolID, device, logger)
	m := metrics.NewMetrics()
	svc := orchestrator.New(
		resolver,
		profile.NewDynamoDBStore(b.ddb, b.cfg.TableName),
		avatar.NewS3Store(b.s3, b.cfg.AvatarBucket),
		device,
		orchestrator.Options{Logger: logger, Metrics: m},
	)
	return &process{svc: svc, resolver: resolver, device: device, metrics: m}
}

func (p *process) stop(t *testing.T) {
	t.Helper()
	if err := devicestore.Close(p.device); err != nil {
		t.Fatalf("Failed to close device store: %v", err)
	}
}

func TestAnonymousLifecycleAcrossRestarts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := newBackends(t)

	// First launch: no identity, create a profile.
	first := b.start(t)
	has, err := first.svc.HasCurrentUserIdentity(ctx)
	if err != nil {
		t.Fatalf("Failed to check identity: %v", err)
	}
	if has {
		t.Fatal("Fresh device should have no identity")
	}

	name := "Alice"
	created, err := first.svc.CreateUser(ctx, &profile.Data{Name: &name, Image: []byte{0xff, 0xd8}})
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	first.stop(t)

	// Second launch: the identity survives, the cached anonymous identity is
	// reused and the profile loads with its avatar.
	second := b.start(t)
	id, err := second.resolver.Resolve(ctx, identity.Anonymous{}, identity.ResolveOptions{})
	if err != nil {
		t.Fatalf("Failed to restore session: %v", err)
	}
	if id.ID != created.IdentityID {
		t.Errorf("Expected restored identity %s, got %s", created.IdentityID, id.ID)
	}
	if got := b.cognito.GetIDCalls(); got != 1 {
		t.Errorf("Expected GetId to be called once across launches, got %d", got)
	}

	fetched, err := second.svc.FetchUser(ctx)
	if err != nil {
		t.Fatalf("Failed to fetch user: %v", err)
	}
	if fetched == nil || fetched.Name == nil || *fetched.Name != "Alice" {
		t.Fatalf("Unexpected profile after restart: %+v", fetched)
	}
	if len(fetched.Image) != 2 {
		t.Errorf("Expected 2 avatar bytes, got %d", len(fetched.Image))
	}

	renamed := "Alicia"
	if _, err := second.svc.UpdateUser(ctx, profile.Data{Name: &renamed}); err != nil {
		t.Fatalf("Failed to update user: %v", err)
	}
	if _, err := second.svc.UpdateUser(ctx, profile.Data{Name: &renamed}); err != nil {
		t.Fatalf("Failed to repeat update: %v", err)
	}
	report := second.metrics.GenerateReport()
	if report.Updated != 1 || report.NoopUpdates != 1 {
		t.Errorf("Expected one write and one no-op update, got %+v", report)
	}
	second.stop(t)

	// Third launch: the update is visible.
	third := b.start(t)
	defer third.stop(t)
	fetched, err = third.svc.FetchUser(ctx)
	if err != nil {
		t.Fatalf("Failed to fetch user: %v", err)
	}
	if fetched == nil || *fetched.Name != "Alicia" {
		t.Fatalf("Expected updated name after restart, got %+v", fetched)
	}
}

func TestProviderLoginAcrossRestarts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := newBackends(t)
	provider := identity.Facebook{Token: "fb-token", ExpiresAt: time.Now().Add(time.Hour)}

	first := b.start(t)
	outcome, err := first.svc.ProviderLogin(ctx, provider)
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	if outcome != orchestrator.NewUser {
		t.Fatalf("Expected new user, got %s", outcome)
	}
	has, err := first.svc.HasCurrentUserIdentity(ctx)
	if err != nil {
		t.Fatalf("Failed to check identity: %v", err)
	}
	if has {
		t.Fatal("A new provider user must not have a persisted identity before create")
	}

	name := "Fiona"
	created, err := first.svc.CreateUser(ctx, &profile.Data{Name: &name})
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := first.svc.SignOut(ctx); err != nil {
		t.Fatalf("Failed to sign out: %v", err)
	}
	first.stop(t)

	// After a restart and a new login the same identity and profile return.
	second := b.start(t)
	defer second.stop(t)
	outcome, err = second.svc.ProviderLogin(ctx, provider)
	if err != nil {
		t.Fatalf("Failed to log in again: %v", err)
	}
	if outcome != orchestrator.ExistingUser {
		t.Fatalf("Expected existing user, got %s", outcome)
	}
	current := second.svc.CurrentUser()
	if current == nil || current.IdentityID != created.IdentityID || *current.Name != "Fiona" {
		t.Fatalf("Unexpected current user: %+v", current)
	}
	persisted, err := second.device.Load(ctx, devicestore.KeyUserID)
	if err != nil {
		t.Fatalf("Failed to read device store: %v", err)
	}
	if persisted != created.IdentityID {
		t.Errorf("Expected persisted identity %s, got %s", created.IdentityID, persisted)
	}
}
