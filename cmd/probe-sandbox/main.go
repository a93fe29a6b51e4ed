// Command probe-sandbox is an interactive terminal view of a probe chain and a target bone
// Move the target with the keyboard and watch the engine bend the chain out of the way
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tetherball88/Know-Your-Limits/audio"
	"github.com/tetherball88/Know-Your-Limits/config"
	"github.com/tetherball88/Know-Your-Limits/core"
	"github.com/tetherball88/Know-Your-Limits/event"
	"github.com/tetherball88/Know-Your-Limits/logging"
	"github.com/tetherball88/Know-Your-Limits/scenario"
)

var (
	configFlag   = flag.String("config", config.DefaultPath, "configuration file, watched for changes")
	scenarioFlag = flag.String("scenario", "", "scenario file (built-in single probe when empty)")
	audioFlag    = flag.Bool("audio", false, "play cues regardless of the configured audio.enabled")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "probe-sandbox: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	// The terminal owns stdout/stderr while the UI runs
	logOpts := cfg.LoggingOptions()
	logOpts.Console = false
	log, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer log.Close()
	core.SetCrashLogger(log.Logger)

	sc, err := loadScenario(*scenarioFlag)
	if err != nil {
		return err
	}

	var player *audio.Player
	if cfg.Audio.Enabled || *audioFlag {
		player = audio.NewPlayer(audio.DefaultCueRate, log.Named("audio"))
		if err := player.Initialize(); err != nil {
			player = nil
		} else {
			defer player.Cleanup()
		}
	}

	eo, err := cfg.EngineOptions(log.Logger)
	if err != nil {
		return err
	}
	sb, err := NewSandbox(sc, scenario.Options{
		Engine: eo,
		Attach: func(r *event.Router) {
			if player != nil {
				player.Attach(r)
			}
		},
	})
	if err != nil {
		return err
	}
	defer sb.Close()

	watcher, err := config.NewWatcher(*configFlag, func(c *config.Config) {
		sb.Bridge().SetTickIntervalMs(c.Scheduler.TickIntervalMs)
		if err := log.SetLevel(c.Log.Level); err != nil {
			log.Warn("level not applied", zap.Error(err))
		}
	}, log.Named("config"))
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	// Restore the terminal before the crash report is printed
	defer func() {
		if r := recover(); r != nil {
			screen.Fini()
			fmt.Fprintf(os.Stderr, "\nSANDBOX CRASHED: %v\nStack Trace:\n%s\n", r, debug.Stack())
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		log.Warn("config watcher not started", zap.Error(err))
	}
	defer watcher.Stop()

	events := make(chan tcell.Event, 100)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return nil
			}
			select {
			case events <- ev:
			case <-gctx.Done():
				return nil
			}
		}
	})

	loop(screen, sb, events)

	cancel()
	screen.Fini()
	if err := g.Wait(); err != nil {
		return err
	}
	return sb.err
}

// loop steps the engine at its tick interval and redraws at ~60 FPS until quit
func loop(screen tcell.Screen, sb *Sandbox, events <-chan tcell.Event) {
	redraw := time.NewTicker(16 * time.Millisecond)
	defer redraw.Stop()

	interval := sb.runner.Engine().Scheduler().Interval()
	step := time.NewTicker(interval)
	defer step.Stop()

	w, h := screen.Size()
	frame := NewFrame(w, h)

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if !sb.apply(commandFor(ev)) {
					return
				}
			case *tcell.EventResize:
				w, h = screen.Size()
				frame = NewFrame(w, h)
				screen.Sync()
			}

		case <-step.C:
			sb.tick()
			if next := sb.runner.Engine().Scheduler().Interval(); next != interval {
				interval = next
				step.Reset(interval)
			}

		case <-redraw.C:
			sb.render(frame)
			frame.Flush(screen)
		}
	}
}

func loadScenario(path string) (*scenario.Scenario, error) {
	if path == "" {
		return scenario.Parse([]byte(builtin))
	}
	return scenario.Load(path)
}
