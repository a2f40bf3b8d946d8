package device

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

type managerFixture struct {
	store     *memoryStore
	gateway   *fakeGateway
	scheduler *fakeScheduler
	triggers  *recordingTriggers
	legacy    *fakeLegacy
	manager   *Manager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:     newMemoryStore(),
		gateway:   &fakeGateway{nextWebhookID: "hook-42"},
		scheduler: newFakeScheduler(),
		triggers:  &recordingTriggers{},
		legacy:    &fakeLegacy{},
	}
	f.gateway.setLocks(model.LockSnapshot{
		ID:                "42",
		Name:              "Front",
		BoltState:         model.BoltNightLock,
		BatteryPercentage: 90,
		GuestAccessMode:   true,
		Online:            true,
	})
	f.manager = NewManager(Deps{
		Store:     f.store,
		Gateway:   f.gateway,
		Legacy:    f.legacy,
		Scheduler: f.scheduler,
		Triggers:  f.triggers,
		Logger:    testLogger(),
	}, nil)
	t.Cleanup(f.manager.Close)
	return f
}

func (f *managerFixture) attach(t *testing.T, rec model.DeviceRecord) Lifecycle {
	t.Helper()
	dev, err := f.manager.Attach(context.Background(), rec)
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	return dev
}

func TestAttachBootstrapsCurrentLock(t *testing.T) {
	f := newManagerFixture(t)
	dev := f.attach(t, model.DeviceRecord{ID: "42", Settings: map[string]any{"touch_to_connect_as_sensor": true}})

	view := dev.View(context.Background())
	if view.Name != "LOQED 42" || view.Variant != model.VariantCurrent {
		t.Fatalf("view = %+v", view)
	}
	if !view.WebhookSubscribed {
		t.Fatalf("webhook should be subscribed at attach")
	}
	if view.Values[model.CapLocked] != true || view.Values[model.CapLockState] != "NIGHT_LOCK" {
		t.Fatalf("bootstrap poll not applied: %v", view.Values)
	}
	if view.Values["open_house_mode"] != true {
		t.Fatalf("open_house_mode = %v", view.Values["open_house_mode"])
	}
	caps := model.NewCapabilitySet(view.Capabilities...)
	if err := caps.Validate(); err != nil {
		t.Fatalf("capabilities invalid: %v", err)
	}
	if !caps.Has("touch_to_connect_sensor") {
		t.Fatalf("sensor setting not honoured: %v", view.Capabilities)
	}
	if len(f.triggers.cards()) != 0 {
		t.Fatalf("bootstrap fired %v", f.triggers.cards())
	}
	if _, ok := f.scheduler.jobs["42"]; !ok {
		t.Fatalf("poll job not scheduled")
	}
}

func TestScheduledPollFiresOnChange(t *testing.T) {
	f := newManagerFixture(t)
	f.attach(t, model.DeviceRecord{ID: "42"})

	f.gateway.setLocks(model.LockSnapshot{ID: "42", BoltState: model.BoltOpen, BatteryPercentage: 89, Online: true})
	if !f.scheduler.run("42") {
		t.Fatalf("job missing")
	}
	if f.triggers.count(model.CardOpened) != 1 {
		t.Fatalf("fired = %v, want opened", f.triggers.cards())
	}
	if f.triggers.count("open_house_mode_changed") != 1 {
		t.Fatalf("fired = %v, want open_house_mode_changed", f.triggers.cards())
	}

	f.gateway.mu.Lock()
	f.gateway.listErr = errors.New("offline")
	f.gateway.mu.Unlock()
	f.scheduler.run("42")
	if _, ok := f.scheduler.jobs["42"]; !ok {
		t.Fatalf("failed poll must not cancel the schedule")
	}
}

func TestWebhookSubscriptionLifecycle(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.attach(t, model.DeviceRecord{ID: "42"})

	if stored, _ := f.store.GetStoreValue(ctx, "42", webhookStoreKey); stored != "hook-42" {
		t.Fatalf("stored webhook id = %q", stored)
	}

	dev, _ := f.manager.Registry().Get("42")
	dev.Close()
	f.manager.Registry().Remove("42")
	if err := f.manager.Restore(ctx); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if f.gateway.createdHooks != 1 {
		t.Fatalf("createWebhook called %d times, want 1", f.gateway.createdHooks)
	}

	if err := f.manager.Detach(ctx, "42"); err != nil {
		t.Fatalf("Detach() error: %v", err)
	}
	if len(f.gateway.deletedHooks) != 1 || f.gateway.deletedHooks[0] != "hook-42" {
		t.Fatalf("deleted hooks = %v", f.gateway.deletedHooks)
	}
	if _, err := f.store.GetStoreValue(ctx, "42", webhookStoreKey); err == nil {
		t.Fatalf("webhook id should be cleared")
	}
	if _, ok := f.scheduler.jobs["42"]; ok {
		t.Fatalf("poll job should be cancelled on detach")
	}
	if err := f.manager.Detach(ctx, "42"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("second Detach() error = %v", err)
	}
}

func TestDetachedDeviceIgnoresLateWebhooks(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	dev := f.attach(t, model.DeviceRecord{ID: "42"})
	lock := dev.(*Lock)

	if err := f.manager.Detach(ctx, "42"); err != nil {
		t.Fatalf("Detach() error: %v", err)
	}
	if err := dev.HandleWebhook(ctx, model.WebhookEvent{LockID: "42", EventType: "STATE_CHANGED_OPEN"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("HandleWebhook() after detach error = %v", err)
	}
	if err := lock.reconciler.ApplyEvent(ctx, model.WebhookEvent{LockID: "42", EventType: "STATE_CHANGED_OPEN"}); err != nil {
		t.Fatalf("in-flight pass error: %v", err)
	}
	if f.triggers.count(model.CardOpened) != 0 {
		t.Fatalf("detached device fired %v", f.triggers.cards())
	}
}

func TestDetachTurnsQueuedPassesIntoNoops(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	dev := f.attach(t, model.DeviceRecord{ID: "42"})
	lock := dev.(*Lock)
	f.store.takeWrites()

	release := make(chan struct{})
	if err := lock.queue.Go(ctx, func(context.Context) error {
		<-release
		return nil
	}, nil); err != nil {
		t.Fatalf("queue blocker: %v", err)
	}
	if err := dev.HandleWebhook(ctx, model.WebhookEvent{LockID: "42", EventType: "STATE_CHANGED_OPEN", KeyNameAdmin: "Alice"}); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}

	detached := make(chan error, 1)
	go func() { detached <- f.manager.Detach(ctx, "42") }()

	deadline := time.Now().Add(time.Second)
	for !lock.Handle().Gone() {
		if time.Now().After(deadline) {
			t.Fatalf("handle was not marked gone while the queue was busy")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	select {
	case err := <-detached:
		if err != nil {
			t.Fatalf("Detach() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Detach() did not return")
	}
	if f.triggers.count(model.CardOpened) != 0 || f.triggers.count(model.CardKeyState) != 0 {
		t.Fatalf("queued pass fired after detach: %v", f.triggers.cards())
	}
	for _, write := range f.store.takeWrites() {
		if strings.HasPrefix(write, model.CapOpen+"=") || strings.HasPrefix(write, model.CapLocked+"=") {
			t.Fatalf("queued pass wrote %s after detach", write)
		}
	}
}

func TestWebhookIsAppliedThroughQueue(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	dev := f.attach(t, model.DeviceRecord{ID: "42"})
	lock := dev.(*Lock)

	if err := dev.HandleWebhook(ctx, model.WebhookEvent{LockID: "42", EventType: "STATE_CHANGED_OPEN", KeyNameAdmin: "Alice"}); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}
	if err := lock.queue.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("queue barrier: %v", err)
	}
	if f.triggers.count(model.CardOpened) != 1 || f.triggers.count(model.CardKeyState) != 1 {
		t.Fatalf("fired = %v", f.triggers.cards())
	}
}

func TestUpdateSettingsReconfiguresFeature(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.attach(t, model.DeviceRecord{ID: "42"})

	view, err := f.manager.UpdateSettings(ctx, "42", map[string]any{"open_house_mode_as_sensor": true})
	if err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	caps := model.NewCapabilitySet(view.Capabilities...)
	if !caps.Has("open_house_mode_sensor") || caps.Has("open_house_mode") {
		t.Fatalf("capabilities = %v", view.Capabilities)
	}
	if view.Values["open_house_mode_sensor"] != true {
		t.Fatalf("value not carried: %v", view.Values)
	}
	if view.Settings["open_house_mode_as_sensor"] != true {
		t.Fatalf("settings = %v", view.Settings)
	}
}

func TestSettingsReadsShareOneRecord(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	dev := f.attach(t, model.DeviceRecord{ID: "42"})
	lock := dev.(*Lock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = dev.View(ctx)
		}
	}()
	for i := 0; i < 50; i++ {
		lock.setSettings(map[string]any{"round": i})
	}
	<-done

	if got := dev.View(ctx).Settings["round"]; got != 49 {
		t.Fatalf("View().Settings[round] = %v, want 49", got)
	}
	if got := lock.record().Settings["round"]; got != 49 {
		t.Fatalf("record().Settings[round] = %v, want 49", got)
	}
}

func TestLockCommands(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	dev := f.attach(t, model.DeviceRecord{ID: "42", Settings: map[string]any{"twist_assist_as_sensor": true}})
	lock := dev.(*Lock)

	if err := lock.SetBoltState(ctx, model.BoltOpen); err != nil {
		t.Fatalf("SetBoltState() error: %v", err)
	}
	if err := lock.SetBoltState(ctx, model.BoltUnknown); !errors.Is(err, ErrUnsupportedState) {
		t.Fatalf("SetBoltState(UNKNOWN) error = %v", err)
	}
	if err := lock.SetFeature(ctx, model.FeatureOpenHouseMode, false); err != nil {
		t.Fatalf("SetFeature() error: %v", err)
	}
	if err := lock.SetFeature(ctx, model.FeatureTwistAssist, true); !errors.Is(err, ErrReadOnlyFeature) {
		t.Fatalf("SetFeature(sensor) error = %v", err)
	}
	if len(f.gateway.boltCalls) != 1 || f.gateway.boltCalls[0] != model.BoltOpen {
		t.Fatalf("bolt calls = %v", f.gateway.boltCalls)
	}
	if len(f.gateway.settingCalls) != 1 || f.gateway.settingCalls[0] != "guest_access_mode=false" {
		t.Fatalf("setting calls = %v", f.gateway.settingCalls)
	}
	if value, _ := lock.Handle().BoolValue("open_house_mode"); value {
		t.Fatalf("toggle should mirror the written value")
	}

	f.gateway.keys = []model.Key{
		{Name: "k1", AdministratorName: "Alice"},
		{Name: "k2", AdministratorName: "Bob"},
		{Name: "k3", AdministratorName: "alicia"},
	}
	options, err := lock.ListKeys(ctx, "ALI")
	if err != nil {
		t.Fatalf("ListKeys() error: %v", err)
	}
	if len(options) != 2 || options[0] != (model.KeyOption{Name: "Alice", ID: "k1"}) || options[1].ID != "k3" {
		t.Fatalf("options = %+v", options)
	}
}

func TestListPairableSkipsAttached(t *testing.T) {
	f := newManagerFixture(t)
	f.gateway.setLocks(
		model.LockSnapshot{ID: "42", BoltState: model.BoltDayLock, Online: true},
		model.LockSnapshot{ID: "7", BoltState: model.BoltDayLock, Online: true},
	)
	f.attach(t, model.DeviceRecord{ID: "42"})

	pairable, err := f.manager.ListPairable(context.Background())
	if err != nil {
		t.Fatalf("ListPairable() error: %v", err)
	}
	if len(pairable) != 1 || pairable[0].ID != "7" {
		t.Fatalf("pairable = %+v", pairable)
	}
}

func TestAttachRejectsDuplicate(t *testing.T) {
	f := newManagerFixture(t)
	f.attach(t, model.DeviceRecord{ID: "42"})
	if _, err := f.manager.Attach(context.Background(), model.DeviceRecord{ID: "42"}); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("second Attach() error = %v", err)
	}
}

func TestLegacyLockAppliesPushedState(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	dev := f.attach(t, model.DeviceRecord{
		ID:      "9",
		Variant: model.VariantLegacy,
		Settings: map[string]any{
			SettingLockType:   "CYLINDER_OPERATED_WITH_HANDLE",
			SettingAPIKey:     "k",
			SettingAPIToken:   "t",
			SettingLocalKeyID: "1",
		},
	})
	legacy := dev.(*LegacyLock)
	if _, ok := f.scheduler.jobs["9"]; ok {
		t.Fatalf("legacy locks are not polled")
	}

	apply := func(state string) {
		t.Helper()
		if err := dev.HandleWebhook(ctx, model.WebhookEvent{LockID: "9", RequestedState: state, KeyAccountEmail: "a@example.com"}); err != nil {
			t.Fatalf("HandleWebhook() error: %v", err)
		}
		if err := legacy.queue.Do(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("queue barrier: %v", err)
		}
	}

	apply("NIGHT_LOCK")
	if locked, _ := legacy.Handle().BoolValue(model.CapLocked); !locked {
		t.Fatalf("locked = false after NIGHT_LOCK")
	}
	apply("OPEN")
	if locked, _ := legacy.Handle().BoolValue(model.CapLocked); locked {
		t.Fatalf("handle-operated cylinder should be unlocked on OPEN")
	}
	apply("OPEN")
	if got := f.triggers.count(model.CardLockStateChanged); got != 2 {
		t.Fatalf("lock_state_changed fired %d times, want 2", got)
	}
	fired := f.triggers.last()
	if fired.Tokens["lockState"] != "OPEN" || fired.Tokens["keyAccountEmail"] != "a@example.com" {
		t.Fatalf("tokens = %v", fired.Tokens)
	}

	if err := legacy.SetBoltState(ctx, model.BoltDayLock); err != nil {
		t.Fatalf("SetBoltState() error: %v", err)
	}
	if len(f.legacy.states) != 1 || f.legacy.states[0] != model.BoltDayLock {
		t.Fatalf("legacy states = %v", f.legacy.states)
	}
}

func TestLegacyLockWaitsForCredentials(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	dev := f.attach(t, model.DeviceRecord{ID: "9", Variant: model.VariantLegacy})
	legacy := dev.(*LegacyLock)

	if err := legacy.SetBoltState(ctx, model.BoltOpen); err == nil {
		t.Fatalf("SetBoltState() without credentials should fail")
	}

	if _, err := f.manager.UpdateSettings(ctx, "9", map[string]any{
		SettingAPIKey:     "k",
		SettingAPIToken:   "t",
		SettingLocalKeyID: "1",
	}); err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}

	select {
	case <-legacy.waited:
	case <-time.After(2 * time.Second):
		t.Fatalf("credential wait did not finish")
	}
	if !legacy.credentials().Complete() {
		t.Fatalf("credentials not loaded")
	}
	if err := legacy.SetBoltState(ctx, model.BoltOpen); err != nil {
		t.Fatalf("SetBoltState() error: %v", err)
	}
}
