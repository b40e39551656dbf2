package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/mlt/internal/build"
	"git.home.luguber.info/inful/mlt/internal/config"
	ferrors "git.home.luguber.info/inful/mlt/internal/foundation/errors"
	"git.home.luguber.info/inful/mlt/internal/logfields"
	"git.home.luguber.info/inful/mlt/internal/metrics"
	"git.home.luguber.info/inful/mlt/internal/state"
)

const eventBuffer = 256

// change is one qualifying notification, real or synthetic.
type change struct {
	path    string
	trigger metrics.Trigger
}

// Result describes one finished watch-mode build.
type Result struct {
	Record  state.BuildRecord
	Err     error
	Trigger metrics.Trigger
	// Changes is the number of notifications coalesced into this build.
	Changes int
}

// Watcher rebuilds on source changes until stopped.
type Watcher struct {
	builder         build.Builder
	rules           *Rules
	debounce        time.Duration
	stopMode        config.StopMode
	rebuildInterval time.Duration

	clock    clockwork.Clock
	logger   *slog.Logger
	recorder metrics.Recorder
	onBuild  func(Result)

	changes   chan change
	stopCh    chan struct{}
	stopOnce  sync.Once
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// New creates a Watcher for the rules' root.
func New(b build.Builder, rules *Rules, cfg config.WatchConfig) *Watcher {
	return &Watcher{
		builder:         b,
		rules:           rules,
		debounce:        cfg.Debounce,
		stopMode:        cfg.StopMode,
		rebuildInterval: cfg.RebuildInterval,
		clock:           clockwork.NewRealClock(),
		logger:          slog.Default(),
		recorder:        metrics.NoopRecorder{},
		onBuild:         func(Result) {},
		changes:         make(chan change, eventBuffer),
		stopCh:          make(chan struct{}),
		ready:           make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// WithClock injects the clock driving the quiet window and the rebuild schedule.
func (w *Watcher) WithClock(c clockwork.Clock) *Watcher {
	w.clock = c
	return w
}

// WithLogger sets the logger.
func (w *Watcher) WithLogger(l *slog.Logger) *Watcher {
	w.logger = l
	return w
}

// WithRecorder sets the metrics recorder.
func (w *Watcher) WithRecorder(r metrics.Recorder) *Watcher {
	w.recorder = r
	return w
}

// OnBuild registers a callback invoked on the coordinator goroutine after
// every build. It must not block.
func (w *Watcher) OnBuild(fn func(Result)) *Watcher {
	w.onBuild = fn
	return w
}

// Ready is closed once the filesystem watch is established.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Done is closed when Run has returned.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Stop ends the watch session. It is safe to call more than once and from
// any goroutine; the in-flight build is handled according to the stop mode.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run watches until ctx is cancelled or Stop is called. Build failures are
// reported through OnBuild and the log; they never end the session.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)
	if w.debounce <= 0 {
		return ferrors.ValidationError("watch debounce must be > 0").Build()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := w.addDirsRecursive(fsw, w.rules.Root()); err != nil {
		_ = fsw.Close()
		return err
	}

	var pumpWG sync.WaitGroup
	pumpCtx, stopPump := context.WithCancel(ctx)
	pumpWG.Add(1)
	go func() {
		defer pumpWG.Done()
		w.pump(pumpCtx, fsw)
	}()

	scheduler, err := w.startScheduler()
	if err != nil {
		stopPump()
		_ = fsw.Close()
		pumpWG.Wait()
		return err
	}

	w.logger.Info("Watching for changes",
		logfields.Path(w.rules.Root()),
		slog.Duration("debounce", w.debounce),
		slog.String("stop_mode", string(w.stopMode)))
	w.readyOnce.Do(func() { close(w.ready) })

	w.coordinate(ctx)

	// Intake is already stopped by the coordinator; release resources.
	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			w.logger.Warn("Failed to stop rebuild scheduler", logfields.Error(err))
		}
	}
	stopPump()
	_ = fsw.Close()
	pumpWG.Wait()
	w.logger.Info("Stopped watching")
	return nil
}

// coordinate is the single event loop owning the debounce timer and the
// building flag.
func (w *Watcher) coordinate(ctx context.Context) {
	timer := w.clock.NewTimer(w.debounce)
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
	var (
		timerC      <-chan time.Time
		building    bool
		pending     bool // changes arrived while building
		cycle       int  // changes coalesced into the next build
		trigger     metrics.Trigger
		results     = make(chan Result, 1)
		cancelBuild context.CancelFunc = func() {}
	)
	defer func() { cancelBuild() }()

	armTimer := func() {
		timer.Reset(w.debounce)
		timerC = timer.Chan()
	}
	accept := func(c change) {
		cycle++
		if trigger == "" || c.trigger == metrics.TriggerChange {
			trigger = c.trigger
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.shutdown(building, cancelBuild, results)
			return
		case <-w.stopCh:
			w.shutdown(building, cancelBuild, results)
			return

		case c := <-w.changes:
			accept(c)
			if building {
				pending = true
				continue
			}
			if !timer.Stop() && timerC != nil {
				select {
				case <-timer.Chan():
				default:
				}
			}
			armTimer()

		case <-timerC:
			timerC = nil
			building = true
			var bctx context.Context
			bctx, cancelBuild = context.WithCancel(context.WithoutCancel(ctx))
			res := Result{Trigger: trigger, Changes: cycle}
			cycle, trigger = 0, ""
			w.recorder.IncWatchRebuild(res.Trigger)
			w.logger.Info("Change detected; rebuilding", slog.Int("changes", res.Changes))
			go func() {
				res.Record, res.Err = w.builder.Build(bctx)
				results <- res
			}()

		case res := <-results:
			building = false
			cancelBuild()
			w.report(res)
			if pending {
				pending = false
				armTimer()
			}
		}
	}
}

// shutdown finishes or kills the in-flight build according to the stop mode.
func (w *Watcher) shutdown(building bool, cancelBuild context.CancelFunc, results <-chan Result) {
	if !building {
		return
	}
	if w.stopMode == config.StopKill {
		w.logger.Info("Stopping; killing in-flight build")
		cancelBuild()
	} else {
		w.logger.Info("Stopping; waiting for in-flight build")
	}
	w.report(<-results)
}

func (w *Watcher) report(res Result) {
	switch {
	case res.Err == nil:
		w.logger.Info("Rebuild succeeded",
			logfields.Image(res.Record.LastContainer),
			logfields.Duration(res.Record.LastBuildDuration.Duration()))
	case errors.Is(res.Err, context.Canceled):
		w.logger.Info("Rebuild canceled")
	default:
		w.logger.Warn("Rebuild failed; still watching", logfields.Error(res.Err))
	}
	w.onBuild(res)
}

// pump turns fsnotify events into changes. The channel is bounded; when it
// is full the coordinator already has a build queued, so extra events are
// dropped.
func (w *Watcher) pump(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleFileEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handleFileEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	isDir := false
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			isDir = true
		}
	}
	if w.rules.Ignored(ev.Name, isDir) {
		return
	}
	if isDir {
		if err := w.addDirsRecursive(fsw, ev.Name); err != nil {
			w.logger.Warn("Failed to watch new directory", logfields.Path(ev.Name), logfields.Error(err))
		}
	}
	w.logger.Debug("File change detected", logfields.Path(ev.Name), logfields.Op(ev.Op.String()))
	w.enqueue(change{path: ev.Name, trigger: metrics.TriggerChange})
}

func (w *Watcher) enqueue(c change) {
	select {
	case w.changes <- c:
	default:
		w.logger.Debug("Change queue full; coalescing", logfields.Path(c.path))
	}
}

func (w *Watcher) addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.rules.Root() && w.rules.Ignored(path, true) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("Watch add failed", logfields.Path(path), logfields.Error(err))
		}
		return nil
	})
}

// startScheduler registers the periodic forced rebuild, if configured.
func (w *Watcher) startScheduler() (gocron.Scheduler, error) {
	if w.rebuildInterval <= 0 {
		return nil, nil
	}
	s, err := gocron.NewScheduler(gocron.WithClock(w.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(w.rebuildInterval),
		gocron.NewTask(func() {
			w.enqueue(change{path: w.rules.Root(), trigger: metrics.TriggerSchedule})
		}),
		gocron.WithName("periodic-rebuild"),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create periodic rebuild job: %w", err)
	}
	s.Start()
	w.logger.Info("Periodic rebuild scheduled", slog.Duration("interval", w.rebuildInterval))
	return s, nil
}
