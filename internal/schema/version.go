package schema

import (
	"context"
	"fmt"

	"github.com/klabs/labelqueue/internal/core"
)

// Migration transforms a Label payload written under an old SchemaVersion into one compatible
// with a newer version (§4.3 "transform_from_previous"). Implementations are named by the
// queue's configured transform identifier and registered in the Registry below.
type Migration interface {
	Apply(payload map[string]interface{}) (map[string]interface{}, error)
}

// MigrationFunc adapts a function to Migration.
type MigrationFunc func(map[string]interface{}) (map[string]interface{}, error)

func (f MigrationFunc) Apply(payload map[string]interface{}) (map[string]interface{}, error) {
	return f(payload)
}

// Registry looks up a named Migration plug-in.
type Registry struct {
	migrations map[string]Migration
}

func NewRegistry() *Registry {
	return &Registry{migrations: make(map[string]Migration)}
}

func (r *Registry) Register(name string, m Migration) {
	r.migrations[name] = m
}

func (r *Registry) Lookup(name string) (Migration, bool) {
	m, ok := r.migrations[name]
	return m, ok
}

// Manager owns the freeze-on-first-write lifecycle of SchemaVersions (§4.3).
type Manager struct {
	store core.SchemaStore
	clock core.Clock
}

func NewManager(store core.SchemaStore, clock core.Clock) *Manager {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Manager{store: store, clock: clock}
}

// EnsureMutable returns the version if it can still be edited, or ErrAlreadyFrozen otherwise.
func (m *Manager) EnsureMutable(ctx context.Context, tenant, versionID string) (core.SchemaVersion, error) {
	v, err := m.store.GetVersion(ctx, tenant, versionID)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	if !v.Mutable() {
		return core.SchemaVersion{}, core.ErrAlreadyFrozen
	}
	return v, nil
}

// FreezeOnFirstWrite is called by the dispatcher immediately after the first Label referencing
// versionID is persisted. It is idempotent: freezing an already-frozen version is a no-op.
func (m *Manager) FreezeOnFirstWrite(ctx context.Context, tenant, versionID string) (core.SchemaVersion, error) {
	v, err := m.store.IncrementLabelCount(ctx, tenant, versionID)
	if err != nil {
		return core.SchemaVersion{}, err
	}
	if v.FrozenAt != nil {
		return v, nil
	}
	return m.store.FreezeVersion(ctx, tenant, versionID, m.clock.Now())
}

// DryRunMigration applies a named migration to a sample payload without persisting anything,
// returning the transformed payload for operator preview (§4.3 "dry_run").
func (m *Manager) DryRunMigration(reg *Registry, name string, payload map[string]interface{}) (map[string]interface{}, error) {
	mig, ok := reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("migration %q not registered", name)
	}
	return mig.Apply(payload)
}
