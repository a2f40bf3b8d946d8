package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/loqed-bridge/addon/internal/loqed"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryStore struct {
	mu        sync.Mutex
	devices   map[string]model.DeviceRecord
	caps      map[string]map[string]any
	kv        map[string]map[string]string
	writes    []string
	failWrite error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		devices: map[string]model.DeviceRecord{},
		caps:    map[string]map[string]any{},
		kv:      map[string]map[string]string{},
	}
}

func (s *memoryStore) UpsertDevice(_ context.Context, rec model.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[rec.ID] = rec
	return nil
}

func (s *memoryStore) GetDevice(_ context.Context, id string) (model.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[id]
	if !ok {
		return model.DeviceRecord{}, fmt.Errorf("%w: device %s", storage.ErrNotFound, id)
	}
	return rec, nil
}

func (s *memoryStore) ListDevices(context.Context) ([]model.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DeviceRecord, 0, len(s.devices))
	for _, rec := range s.devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpdateDeviceSettings(_ context.Context, id string, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Settings = settings
	s.devices[id] = rec
	return nil
}

func (s *memoryStore) DeleteDevice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
	delete(s.caps, id)
	delete(s.kv, id)
	return nil
}

func (s *memoryStore) LoadCapabilities(_ context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{}
	for name, value := range s.caps[id] {
		out[name] = value
	}
	return out, nil
}

func (s *memoryStore) AddCapability(_ context.Context, id string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caps[id] == nil {
		s.caps[id] = map[string]any{}
	}
	if _, ok := s.caps[id][name]; !ok {
		s.caps[id][name] = nil
	}
	return nil
}

func (s *memoryStore) RemoveCapability(_ context.Context, id string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caps[id], name)
	return nil
}

func (s *memoryStore) SetCapabilityValue(_ context.Context, id string, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	if _, ok := s.caps[id][name]; !ok {
		return storage.ErrNotFound
	}
	s.caps[id][name] = value
	s.writes = append(s.writes, fmt.Sprintf("%s=%v", name, value))
	return nil
}

func (s *memoryStore) SwapCapability(_ context.Context, id string, retire string, add string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caps[id] == nil {
		s.caps[id] = map[string]any{}
	}
	if retire != "" {
		delete(s.caps[id], retire)
	}
	s.caps[id][add] = value
	return nil
}

func (s *memoryStore) GetStoreValue(_ context.Context, id string, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.kv[id][key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

func (s *memoryStore) SetStoreValue(_ context.Context, id string, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv[id] == nil {
		s.kv[id] = map[string]string{}
	}
	s.kv[id][key] = value
	return nil
}

func (s *memoryStore) DeleteStoreValue(_ context.Context, id string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv[id], key)
	return nil
}

func (s *memoryStore) seedCapabilities(id string, values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps[id] = map[string]any{}
	for name, value := range values {
		s.caps[id][name] = value
	}
}

func (s *memoryStore) takeWrites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.writes
	s.writes = nil
	return out
}

func (s *memoryStore) capabilityNames(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for name := range s.caps[id] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type recordingTriggers struct {
	mu    sync.Mutex
	fired []model.Trigger
}

func (r *recordingTriggers) Fire(_ context.Context, trigger model.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, trigger)
	return nil
}

func (r *recordingTriggers) cards() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.fired))
	for _, trigger := range r.fired {
		out = append(out, trigger.Card)
	}
	return out
}

func (r *recordingTriggers) count(card string) int {
	n := 0
	for _, c := range r.cards() {
		if c == card {
			n++
		}
	}
	return n
}

func (r *recordingTriggers) last() model.Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fired) == 0 {
		return model.Trigger{}
	}
	return r.fired[len(r.fired)-1]
}

type fakeGateway struct {
	mu            sync.Mutex
	locks         []model.LockSnapshot
	listErr       error
	keys          []model.Key
	boltCalls     []model.BoltState
	settingCalls  []string
	createdHooks  int
	deletedHooks  []string
	nextWebhookID string
	createHookErr error
}

func (g *fakeGateway) ListLocks(context.Context) ([]model.LockSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]model.LockSnapshot, len(g.locks))
	copy(out, g.locks)
	return out, nil
}

func (g *fakeGateway) setLocks(locks ...model.LockSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locks = locks
}

func (g *fakeGateway) SetBoltState(_ context.Context, _ string, state model.BoltState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.boltCalls = append(g.boltCalls, state)
	return nil
}

func (g *fakeGateway) SetSetting(_ context.Context, _ string, name string, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settingCalls = append(g.settingCalls, fmt.Sprintf("%s=%v", name, value))
	return nil
}

func (g *fakeGateway) CreateWebhook(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createHookErr != nil {
		return "", g.createHookErr
	}
	g.createdHooks++
	if g.nextWebhookID == "" {
		return "hook-1", nil
	}
	return g.nextWebhookID, nil
}

func (g *fakeGateway) DeleteWebhook(_ context.Context, _ string, webhookID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedHooks = append(g.deletedHooks, webhookID)
	return nil
}

func (g *fakeGateway) ListKeys(context.Context, string) ([]model.Key, error) {
	return g.keys, nil
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]func(ctx context.Context)
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]func(ctx context.Context){}}
}

func (s *fakeScheduler) Schedule(id string, job func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = job
	return nil
}

func (s *fakeScheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *fakeScheduler) run(id string) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if ok {
		job(context.Background())
	}
	return ok
}

type fakeLegacy struct {
	mu     sync.Mutex
	states []model.BoltState
}

func (f *fakeLegacy) ChangeLockState(_ context.Context, creds loqed.LegacyCredentials, _ string, state model.BoltState) error {
	if !creds.Complete() {
		return loqed.ErrCredentialsIncomplete
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeLegacy) AwaitCredentials(ctx context.Context, lockID string, fetch loqed.CredentialFetcher) (loqed.LegacyCredentials, error) {
	for {
		creds, err := fetch.FetchCredentials(ctx, lockID)
		if err == nil && creds.Complete() {
			return creds, nil
		}
		select {
		case <-ctx.Done():
			return loqed.LegacyCredentials{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestReconciler(t *testing.T, store *memoryStore, values map[string]any) (*Reconciler, *Handle, *recordingTriggers) {
	t.Helper()
	store.seedCapabilities("42", values)
	handle, err := LoadHandle(context.Background(), "42", store, nil)
	if err != nil {
		t.Fatalf("load handle: %v", err)
	}
	triggers := &recordingTriggers{}
	return NewReconciler(handle, triggers, testLogger()), handle, triggers
}

func intPtr(v int) *int {
	return &v
}
