package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signage-fleet/cache"
	"signage-fleet/db"
	"signage-fleet/entities"
	"signage-fleet/events"
	"signage-fleet/liveness"
	"signage-fleet/repositories"

	"github.com/rs/zerolog"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	devices  repositories.DeviceRepository
	content  repositories.ContentRepository
	commands repositories.CommandRepository
	registry *RegistryUseCase
	sync     *SyncUseCase
	dispatch *CommandsUseCase
	catalog  *ContentUseCase
	events   *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Kind
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	database, err := db.OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	tracker, err := liveness.New(5*time.Second, 20*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return newFixtureWith(repositories.NewDevicePgRepository(database), database, tracker, strict)
}

func newFixtureWith(devices repositories.DeviceRepository, database db.Database, tracker *liveness.Tracker, strict bool) *fixture {
	f := &fixture{
		devices:  devices,
		content:  repositories.NewContentPgRepository(database),
		commands: repositories.NewCommandPgRepository(database),
		events:   &recordingPublisher{},
	}
	lg := zerolog.Nop()
	f.registry = NewRegistryUseCase(f.devices, cache.NewDeviceCache(time.Minute), tracker, f.events, lg)
	f.sync = NewSyncUseCase(f.registry, f.content, strict, lg)
	f.dispatch = NewCommandsUseCase(f.registry, f.commands, f.content, f.events, lg)
	f.catalog = NewContentUseCase(f.registry, f.content)
	return f
}

func (f *fixture) register(t *testing.T, id string) {
	t.Helper()
	if _, err := f.registry.Register(context.Background(), id, entities.DeviceMetadata{Name: id}, t0); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func (f *fixture) addContent(t *testing.T, item entities.ContentItem) entities.ContentItem {
	t.Helper()
	if err := f.catalog.CreateContent(context.Background(), &item); err != nil {
		t.Fatalf("create content %q: %v", item.Title, err)
	}
	return item
}

func (f *fixture) dispatchOK(t *testing.T, id string, cmd entities.Command, at time.Time) *CommandResult {
	t.Helper()
	res, err := f.dispatch.Dispatch(context.Background(), id, cmd, at)
	if err != nil {
		t.Fatalf("dispatch %s: %v", cmd.Type(), err)
	}
	return res
}

func TestConnectivityDecaysLiveStaleDead(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")

	d, err := f.registry.Get(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if got := f.registry.Connectivity(d, t0); got != entities.ConnectivityDead {
		t.Errorf("never-seen device should be DEAD, got %s", got)
	}

	if _, err := f.sync.Heartbeat(ctx, "D1", Report{}, t0); err != nil {
		t.Fatal(err)
	}
	d, _ = f.registry.Get(ctx, "D1")

	for _, c := range []struct {
		at   time.Duration
		want entities.Connectivity
	}{
		{0, entities.ConnectivityLive},
		{5 * time.Second, entities.ConnectivityLive},
		{10 * time.Second, entities.ConnectivityStale},
		{25 * time.Second, entities.ConnectivityDead},
	} {
		if got := f.registry.Connectivity(d, t0.Add(c.at)); got != c.want {
			t.Errorf("at t+%s: expected %s, got %s", c.at, c.want, got)
		}
	}
	if d.DeclaredState != entities.StateOnline {
		t.Errorf("connectivity must not change declared state, got %s", d.DeclaredState)
	}
}

func TestMonotonicLivenessEitherOrder(t *testing.T) {
	a := Report{IP: "10.0.0.1", SoftwareVersion: "1.0.0"}
	b := Report{IP: "10.0.0.2", SoftwareVersion: "1.1.0"}
	tA, tB := t0.Add(time.Second), t0.Add(2*time.Second)

	orders := map[string][]struct {
		r  Report
		at time.Time
	}{
		"in order":     {{a, tA}, {b, tB}},
		"out of order": {{b, tB}, {a, tA}},
	}
	for name, seq := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			f.register(t, "D1")
			for _, hb := range seq {
				if _, err := f.sync.Heartbeat(ctx, "D1", hb.r, hb.at); err != nil {
					t.Fatal(err)
				}
			}
			d, err := f.devices.GetByID(ctx, "D1")
			if err != nil {
				t.Fatal(err)
			}
			if !d.LastSeenAt.Equal(tB) {
				t.Errorf("expected last seen %s, got %s", tB, d.LastSeenAt)
			}
			if d.IPAddress != b.IP || d.SoftwareVersion != b.SoftwareVersion {
				t.Errorf("expected metadata of the newest heartbeat, got %s/%s", d.IPAddress, d.SoftwareVersion)
			}
		})
	}
}

func TestStaleHeartbeatChangesNothing(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")

	at := t0.Add(time.Minute)
	if _, err := f.sync.Heartbeat(ctx, "D1", Report{IP: "10.0.0.9", SoftwareVersion: "2.0.0"}, at); err != nil {
		t.Fatal(err)
	}

	for _, stale := range []time.Time{at, at.Add(-time.Second)} {
		sum, err := f.sync.Heartbeat(ctx, "D1", Report{IP: "192.168.1.1", SoftwareVersion: "0.9.0"}, stale)
		if err != nil {
			t.Fatalf("stale heartbeat must not be an error: %v", err)
		}
		if sum.HeartbeatApplied {
			t.Errorf("heartbeat at %s should not be applied", stale)
		}
	}

	d, _ := f.devices.GetByID(ctx, "D1")
	if !d.LastSeenAt.Equal(at) || d.IPAddress != "10.0.0.9" || d.SoftwareVersion != "2.0.0" {
		t.Errorf("stale heartbeat leaked into record: %s %s %s", d.LastSeenAt, d.IPAddress, d.SoftwareVersion)
	}
}

func TestConcurrentHeartbeatsKeepNewest(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := t0.Add(time.Duration(i) * time.Second)
			// transient failures are retried, as a device would
			for attempt := 0; attempt < 20; attempt++ {
				_, err := f.sync.Heartbeat(ctx, "D1", Report{}, at)
				if err == nil {
					return
				}
				if !errors.Is(err, ErrTransient) {
					errs <- err
					return
				}
			}
			errs <- errors.New("heartbeat never committed")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	d, _ := f.devices.GetByID(ctx, "D1")
	if want := t0.Add(n * time.Second); !d.LastSeenAt.Equal(want) {
		t.Errorf("expected last seen %s, got %s", want, d.LastSeenAt)
	}
}

func TestSyncHonoursActivationWindow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")

	until := t0.Add(60 * time.Second)
	c1 := f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "C1", Type: entities.ContentVideo, ActiveFrom: t0, ActiveUntil: &until, Enabled: true})

	cases := []struct {
		at   time.Time
		want bool
	}{
		{t0.Add(-time.Second), false},
		{t0, true},
		{t0.Add(30 * time.Second), true},
		{until, false},
		{t0.Add(90 * time.Second), false},
	}
	for _, c := range cases {
		res, err := f.sync.Sync(ctx, "D1", Report{}, c.at)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, it := range res.Content {
			found = found || it.ID == c1.ID
		}
		if found != c.want {
			t.Errorf("sync at t0%+v: C1 present=%v, want %v", c.at.Sub(t0), found, c.want)
		}
	}
}

func TestSyncOrderingIsDeterministic(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")

	early, late := t0.Add(-time.Hour), t0.Add(-time.Minute)
	f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "low", Type: entities.ContentImage, Priority: 1, ActiveFrom: early, Enabled: true})
	f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "high-late", Type: entities.ContentImage, Priority: 5, ActiveFrom: late, Enabled: true})
	f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "high-early", Type: entities.ContentVideo, Priority: 5, ActiveFrom: early, Enabled: true})
	f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "off", Type: entities.ContentAudio, Priority: 9, ActiveFrom: early, Enabled: false})

	first, err := f.sync.Sync(ctx, "D1", Report{}, t0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.sync.Sync(ctx, "D1", Report{}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if second.HeartbeatApplied {
		t.Error("repeated sync at the same instant must not advance liveness")
	}

	want := []string{"high-early", "high-late", "low"}
	for _, res := range []*SyncResult{first, second} {
		if len(res.Content) != len(want) {
			t.Fatalf("expected %d items, got %d", len(want), len(res.Content))
		}
		for i, title := range want {
			if res.Content[i].Title != title {
				t.Errorf("position %d: expected %s, got %s", i, title, res.Content[i].Title)
			}
		}
	}
}

func TestSortPlaylistBreaksTiesByID(t *testing.T) {
	items := []entities.ContentItem{
		{ID: "b", Priority: 1, ActiveFrom: t0},
		{ID: "a", Priority: 1, ActiveFrom: t0},
		{ID: "c", Priority: 2, ActiveFrom: t0},
	}
	SortPlaylist(items)
	if items[0].ID != "c" || items[1].ID != "a" || items[2].ID != "b" {
		t.Errorf("unexpected order %s %s %s", items[0].ID, items[1].ID, items[2].ID)
	}
}

func TestPlaybackCountsEveryReport(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")
	c1 := f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "C1", Type: entities.ContentVideo, ActiveFrom: t0, Enabled: true})

	if err := f.sync.ReportPlayback(ctx, c1.ID, "", t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := f.sync.ReportPlayback(ctx, c1.ID, "D1", t0.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}

	got, _ := f.content.GetByID(ctx, c1.ID)
	if got.PlayCount != 2 {
		t.Errorf("expected play count 2, got %d", got.PlayCount)
	}
	if got.LastPlayedAt == nil || !got.LastPlayedAt.Equal(t0.Add(2*time.Second)) {
		t.Errorf("unexpected last played %v", got.LastPlayedAt)
	}

	if err := f.sync.ReportPlayback(ctx, c1.ID, "D2", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a foreign device, got %v", err)
	}
	if err := f.sync.ReportPlayback(ctx, "missing", "", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown content, got %v", err)
	}
}

func TestRestartHoldsUntilDeviceReportsOnline(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")
	if _, err := f.sync.Sync(ctx, "D1", Report{}, t0); err != nil {
		t.Fatal(err)
	}

	res := f.dispatchOK(t, "D1", entities.Restart(), t0.Add(time.Second))
	if res.ResultingState != entities.StateRebooting || res.PreviousState != entities.StateOnline {
		t.Fatalf("expected ONLINE -> REBOOTING, got %s -> %s", res.PreviousState, res.ResultingState)
	}
	if res.Delivery != Delivery {
		t.Errorf("result must describe pull delivery, got %q", res.Delivery)
	}

	synced, err := f.sync.Sync(ctx, "D1", Report{IP: "10.0.0.5"}, t0.Add(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if synced.Desired.DeclaredState != entities.StateRebooting {
		t.Errorf("expected REBOOTING after a silent heartbeat, got %s", synced.Desired.DeclaredState)
	}

	synced, err = f.sync.Sync(ctx, "D1", Report{State: entities.StateOnline}, t0.Add(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if synced.Desired.DeclaredState != entities.StateOnline {
		t.Errorf("expected ONLINE once the device reports it, got %s", synced.Desired.DeclaredState)
	}
}

func TestRestartWhileRebootingIsConfirmedNoOp(t *testing.T) {
	f := newFixture(t, true)
	f.register(t, "D1")

	f.dispatchOK(t, "D1", entities.Restart(), t0)
	first := f.dispatchOK(t, "D1", entities.Restart(), t0.Add(time.Millisecond))
	second := f.dispatchOK(t, "D1", entities.Restart(), t0.Add(2*time.Millisecond))

	if !first.NoOp || !second.NoOp {
		t.Error("restarts while REBOOTING should be no-ops")
	}
	if first.Acknowledgment != second.Acknowledgment {
		t.Errorf("acknowledgments differ:\n%s\n%s", first.Acknowledgment, second.Acknowledgment)
	}
	if second.ResultingState != entities.StateRebooting {
		t.Errorf("expected REBOOTING, got %s", second.ResultingState)
	}

	hist, err := f.dispatch.History(context.Background(), "D1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Errorf("expected every dispatch logged, got %d records", len(hist))
	}
	if kinds := f.events.kinds(); len(kinds) != 2 {
		// one registration, one real transition
		t.Errorf("expected 2 events, got %v", kinds)
	}
}

func TestDispatchTransitionTable(t *testing.T) {
	play := func(id string) entities.Command {
		c, err := entities.Play(id)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
	update := func(v string) entities.Command {
		c, err := entities.UpdateSoftware(v)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	tests := []struct {
		name    string
		from    entities.DeclaredState
		cmd     func(contentID string) entities.Command
		want    entities.DeclaredState
		wantErr error
	}{
		{"play online", entities.StateOnline, play, entities.StateOnline, nil},
		{"pause online", entities.StateOnline, func(string) entities.Command { return entities.Pause() }, entities.StateOnline, nil},
		{"stop online", entities.StateOnline, func(string) entities.Command { return entities.Stop() }, entities.StateOnline, nil},
		{"restart online", entities.StateOnline, func(string) entities.Command { return entities.Restart() }, entities.StateRebooting, nil},
		{"update online", entities.StateOnline, func(string) entities.Command { return update("2.0.0") }, entities.StateUpdating, nil},
		{"play rebooting", entities.StateRebooting, play, "", ErrInvalidTransition},
		{"update rebooting", entities.StateRebooting, func(string) entities.Command { return update("2.0.0") }, "", ErrInvalidTransition},
		{"restart updating", entities.StateUpdating, func(string) entities.Command { return entities.Restart() }, "", ErrInvalidTransition},
		{"pause offline", entities.StateOffline, func(string) entities.Command { return entities.Pause() }, "", ErrInvalidTransition},
		{"restart offline", entities.StateOffline, func(string) entities.Command { return entities.Restart() }, "", ErrInvalidTransition},
		{"restart retired", entities.StateRetired, func(string) entities.Command { return entities.Restart() }, "", ErrInvalidTransition},
		{"update to current version", entities.StateOnline, func(string) entities.Command { return update("1.0.0") }, "", ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			f.register(t, "D1")
			if _, err := f.sync.Heartbeat(ctx, "D1", Report{SoftwareVersion: "1.0.0"}, t0); err != nil {
				t.Fatal(err)
			}
			c := f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "loop", Type: entities.ContentVideo, ActiveFrom: t0, Enabled: true})
			if tt.from != entities.StateOnline {
				if _, err := f.registry.SetDeclaredState(ctx, "D1", tt.from); err != nil {
					t.Fatal(err)
				}
			}

			res, err := f.dispatch.Dispatch(ctx, "D1", tt.cmd(c.ID), t0.Add(time.Second))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				d, _ := f.devices.GetByID(ctx, "D1")
				if d.DeclaredState != tt.from {
					t.Errorf("rejected command changed state to %s", d.DeclaredState)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if res.ResultingState != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.ResultingState)
			}
		})
	}
}

func TestPlaybackCommandsDriveDesiredState(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")
	c := f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "promo", Type: entities.ContentVideo, ActiveFrom: t0, Enabled: true})

	play, _ := entities.Play(c.ID)
	res := f.dispatchOK(t, "D1", play, t0)
	if res.Desired.PlaybackState != entities.PlaybackPlaying || res.Desired.PlaybackContentID != c.ID {
		t.Errorf("unexpected desired playback %+v", res.Desired)
	}

	res = f.dispatchOK(t, "D1", entities.Pause(), t0.Add(time.Second))
	if res.Desired.PlaybackState != entities.PlaybackPaused || res.NoOp {
		t.Errorf("expected paused, got %+v noop=%v", res.Desired, res.NoOp)
	}

	res = f.dispatchOK(t, "D1", entities.Stop(), t0.Add(2*time.Second))
	if res.Desired.PlaybackState != entities.PlaybackStopped || res.Desired.PlaybackContentID != "" {
		t.Errorf("expected stopped without content, got %+v", res.Desired)
	}

	res = f.dispatchOK(t, "D1", entities.Pause(), t0.Add(3*time.Second))
	if !res.NoOp {
		t.Error("pausing a stopped device should be a no-op")
	}

	synced, err := f.sync.Sync(ctx, "D1", Report{}, t0.Add(4*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if synced.Desired.PlaybackState != entities.PlaybackStopped {
		t.Errorf("sync should carry the desired playback, got %s", synced.Desired.PlaybackState)
	}

	f.register(t, "D2")
	foreign, _ := entities.Play(c.ID)
	if _, err := f.dispatch.Dispatch(ctx, "D2", foreign, t0); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand for foreign content, got %v", err)
	}
}

func TestUpdateSoftwareCompletesOnReportedVersion(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")
	if _, err := f.sync.Heartbeat(ctx, "D1", Report{SoftwareVersion: "1.0.0"}, t0); err != nil {
		t.Fatal(err)
	}

	cmd, _ := entities.UpdateSoftware("1.1.0")
	f.dispatchOK(t, "D1", cmd, t0.Add(time.Second))

	again := f.dispatchOK(t, "D1", cmd, t0.Add(2*time.Second))
	if !again.NoOp {
		t.Error("repeating the same update target should be a no-op")
	}
	other, _ := entities.UpdateSoftware("1.2.0")
	if _, err := f.dispatch.Dispatch(ctx, "D1", other, t0.Add(3*time.Second)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for a different target, got %v", err)
	}

	sum, _ := f.sync.Heartbeat(ctx, "D1", Report{SoftwareVersion: "1.0.0"}, t0.Add(4*time.Second))
	if sum.DeclaredState != entities.StateUpdating {
		t.Errorf("expected UPDATING while the old version runs, got %s", sum.DeclaredState)
	}
	sum, _ = f.sync.Heartbeat(ctx, "D1", Report{SoftwareVersion: "1.1.0"}, t0.Add(5*time.Second))
	if sum.DeclaredState != entities.StateOnline || sum.Desired.TargetVersion != "" {
		t.Errorf("expected ONLINE with target cleared, got %s target=%q", sum.DeclaredState, sum.Desired.TargetVersion)
	}
}

func TestCommandToDeadDeviceIsAccepted(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")
	if _, err := f.sync.Heartbeat(ctx, "D1", Report{}, t0); err != nil {
		t.Fatal(err)
	}

	res := f.dispatchOK(t, "D1", entities.Restart(), t0.Add(time.Hour))
	if res.Connectivity != entities.ConnectivityDead {
		t.Errorf("expected DEAD at issue time, got %s", res.Connectivity)
	}
	if res.ResultingState != entities.StateRebooting {
		t.Errorf("expected REBOOTING, got %s", res.ResultingState)
	}

	if _, err := f.dispatch.Dispatch(ctx, "ghost", entities.Restart(), t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPlayToUnknownDeviceIsNotFound(t *testing.T) {
	f := newFixture(t, true)
	play, _ := entities.Play("some-content")

	_, err := f.dispatch.Dispatch(context.Background(), "ghost", play, t0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrInvalidCommand) {
		t.Errorf("unknown device must not be reported as an invalid command: %v", err)
	}
}

func TestDispatchRacingHeartbeatsStaysConsistent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")

	retry := func(op func() error) error {
		for attempt := 0; attempt < 20; attempt++ {
			err := op()
			if err == nil || !errors.Is(err, ErrTransient) {
				return err
			}
		}
		return errors.New("never committed")
	}

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n+1)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := t0.Add(time.Duration(i) * time.Second)
			errs <- retry(func() error {
				_, err := f.sync.Heartbeat(ctx, "D1", Report{SoftwareVersion: "1.0.0"}, at)
				return err
			})
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- retry(func() error {
			_, err := f.dispatch.Dispatch(ctx, "D1", entities.Restart(), t0.Add(3*time.Second))
			return err
		})
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	d, err := f.devices.GetByID(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if d.DeclaredState != entities.StateRebooting {
		t.Errorf("heartbeats without a reported state must not undo the restart, got %s", d.DeclaredState)
	}
	if want := t0.Add(n * time.Second); !d.LastSeenAt.Equal(want) {
		t.Errorf("expected last seen %s, got %s", want, d.LastSeenAt)
	}
	if d.SoftwareVersion != "1.0.0" {
		t.Errorf("restart must not drop heartbeat metadata, got %q", d.SoftwareVersion)
	}

	hist, err := f.dispatch.History(ctx, "D1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].PreviousState != entities.StateOnline || hist[0].ResultingState != entities.StateRebooting {
		t.Errorf("expected one ONLINE -> REBOOTING record, got %+v", hist)
	}
}

func TestStrictRegistration(t *testing.T) {
	ctx := context.Background()

	strict := newFixture(t, true)
	if _, err := strict.sync.Sync(ctx, "new-screen", Report{}, t0); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if _, err := strict.registry.Get(ctx, "new-screen"); !errors.Is(err, ErrNotFound) {
		t.Errorf("strict mode must not create the device, got %v", err)
	}

	permissive := newFixture(t, false)
	res, err := permissive.sync.Sync(ctx, "new-screen", Report{IP: "10.1.1.1"}, t0)
	if err != nil {
		t.Fatalf("permissive sync failed: %v", err)
	}
	if res.Desired.DeclaredState != entities.StateOnline || !res.HeartbeatApplied {
		t.Errorf("expected auto-registered ONLINE device, got %+v", res)
	}
}

func TestRegisterAndRetire(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")

	if _, err := f.registry.Register(ctx, "D1", entities.DeviceMetadata{}, t0); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	f.addContent(t, entities.ContentItem{DeviceID: "D1", Title: "loop", Type: entities.ContentImage, ActiveFrom: t0, Enabled: true})
	if _, err := f.registry.Retire(ctx, "D1"); err != nil {
		t.Fatal(err)
	}

	res, err := f.sync.Sync(ctx, "D1", Report{State: entities.StateOnline}, t0.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if res.Desired.DeclaredState != entities.StateRetired {
		t.Errorf("retired device must stay RETIRED, got %s", res.Desired.DeclaredState)
	}
	if len(res.Content) != 0 {
		t.Errorf("retired device should get no content, got %d items", len(res.Content))
	}
	if _, err := f.dispatch.Dispatch(ctx, "D1", entities.Restart(), t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on retired device, got %v", err)
	}
}

func TestDeviceCannotReportRetired(t *testing.T) {
	f := newFixture(t, true)
	f.register(t, "D1")
	_, err := f.sync.Heartbeat(context.Background(), "D1", Report{State: entities.StateRetired}, t0)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateContentValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "D1")
	before := t0.Add(-time.Minute)

	bad := []entities.ContentItem{
		{DeviceID: "D1", Type: entities.ContentVideo, ActiveFrom: t0},
		{DeviceID: "D1", Title: "x", Type: "gif", ActiveFrom: t0},
		{DeviceID: "D1", Title: "x", Type: entities.ContentVideo},
		{DeviceID: "D1", Title: "x", Type: entities.ContentVideo, ActiveFrom: t0, ActiveUntil: &before},
	}
	for i := range bad {
		if err := f.catalog.CreateContent(ctx, &bad[i]); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
	orphan := entities.ContentItem{DeviceID: "nobody", Title: "x", Type: entities.ContentVideo, ActiveFrom: t0}
	if err := f.catalog.CreateContent(ctx, &orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown device, got %v", err)
	}
}

type failingDevices struct {
	repositories.DeviceRepository
	err error
}

func (r failingDevices) GetByID(context.Context, string) (*entities.Device, error) {
	return nil, r.err
}

func TestStorageFailureIsTransient(t *testing.T) {
	database, err := db.OpenMemory(t.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close() })
	tracker, _ := liveness.New(5*time.Second, 20*time.Second)

	down := failingDevices{repositories.NewDevicePgRepository(database), errors.New("connection refused")}
	f := newFixtureWith(down, database, tracker, true)

	if _, err := f.sync.Sync(context.Background(), "D1", Report{}, t0); !errors.Is(err, ErrTransient) {
		t.Errorf("expected ErrTransient from sync, got %v", err)
	}
	if _, err := f.dispatch.Dispatch(context.Background(), "D1", entities.Restart(), t0); !errors.Is(err, ErrTransient) {
		t.Errorf("expected ErrTransient from dispatch, got %v", err)
	}
}
