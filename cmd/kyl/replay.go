package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tetherball88/Know-Your-Limits/bridge"
	"github.com/tetherball88/Know-Your-Limits/config"
	"github.com/tetherball88/Know-Your-Limits/scenario"
	"github.com/tetherball88/Know-Your-Limits/telemetry"
)

type replayOptions struct {
	plotDir  string
	ticks    int
	parallel int
	verbose  bool
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>...",
	Short: "Run scenarios through the engine and summarize the outcome",
	Long: `Replay one or more scenarios on the in-memory scene.

Examples:
  # Replay a scenario
  kyl replay scenarios/approach.yaml

  # Render depth plots next to each other
  kyl replay --plot plots scenarios/*.yaml

  # Override the tick count and show bridge console output
  kyl replay --ticks 500 --verbose scenarios/long.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Close()

		results, err := replayAll(cmd.Context(), cfg, log.Logger, args, replayOpts, cmd.OutOrStdout())
		for _, res := range results {
			printResult(cmd.OutOrStdout(), res)
		}
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayOpts.plotDir, "plot", "", "write a depth plot per scenario into this directory")
	replayCmd.Flags().IntVar(&replayOpts.ticks, "ticks", 0, "override the scenario tick count")
	replayCmd.Flags().IntVarP(&replayOpts.parallel, "parallel", "j", 4, "scenarios replayed concurrently")
	replayCmd.Flags().BoolVarP(&replayOpts.verbose, "verbose", "v", false, "echo bridge console output and engine status")
	rootCmd.AddCommand(replayCmd)
}

type replayResult struct {
	path     string
	res      *scenario.Result
	plot     string
	plotSize int64
	status   []string
}

// replayAll runs every scenario on its own engine; results keep argument order
func replayAll(ctx context.Context, cfg *config.Config, log *zap.Logger, paths []string,
	opts replayOptions, out io.Writer) ([]replayResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]replayResult, len(paths))
	var consoleMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.parallel, 1))
	for i, path := range paths {
		g.Go(func() error {
			sc, err := scenario.Load(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if opts.ticks > 0 {
				sc.Ticks = opts.ticks
			}

			eo, err := cfg.EngineOptions(log.With(zap.String("scenario", sc.Name)))
			if err != nil {
				return err
			}
			var console bridge.Console
			if opts.verbose {
				console = &prefixConsole{mu: &consoleMu, prefix: sc.Name, inner: bridge.NewColorConsole(out)}
			}

			rec := telemetry.NewRecorder(0)
			r, err := scenario.NewRunner(sc, scenario.Options{Engine: eo, Console: console, Recorder: rec})
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			defer r.Close()

			res, err := r.Run(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = replayResult{path: path, res: res}
			if opts.verbose {
				results[i].status = r.Engine().Status().Lines()
			}

			if opts.plotDir != "" {
				plot := filepath.Join(opts.plotDir, plotName(sc, path))
				threshold := 0.0
				if len(sc.Monitors) > 0 {
					threshold = sc.Monitors[0].Activate
				}
				if err := rec.WritePlot(plot, threshold); err != nil && !errors.Is(err, telemetry.ErrNoSamples) {
					return fmt.Errorf("%s: %w", path, err)
				}
				if info, err := os.Stat(plot); err == nil {
					results[i].plot, results[i].plotSize = plot, info.Size()
				}
			}
			return nil
		})
	}
	err := g.Wait()

	done := results[:0]
	for _, r := range results {
		if r.res != nil {
			done = append(done, r)
		}
	}
	return done, err
}

func plotName(sc *scenario.Scenario, path string) string {
	name := sc.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return name + ".png"
}

func printResult(w io.Writer, r replayResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	res := r.res
	name := res.Name
	if name == "" {
		name = r.path
	}
	fmt.Fprintf(w, "%s  %s ticks, %s events", cyan(name), humanize.Comma(int64(res.Ticks)), humanize.Comma(int64(res.Events)))
	if res.Dropped > 0 {
		fmt.Fprintf(w, ", %s", yellow(fmt.Sprintf("%d dropped", res.Dropped)))
	}
	if res.Rejected > 0 {
		fmt.Fprintf(w, ", %s", yellow(fmt.Sprintf("%d rejected", res.Rejected)))
	}
	fmt.Fprintln(w)

	for _, s := range res.Series {
		state := green("active")
		if s.Removed {
			state = yellow("removed: " + s.RemoveReason)
		}
		fmt.Fprintf(w, "  %s %-16s peak %6.3f  deformed %d  restored %d  %s\n",
			s.MonitorID.String()[:8], s.Label, s.Peak(), s.Deformations, s.Restorations, state)
	}
	if res.Displaced > 0 {
		fmt.Fprintf(w, "  %s\n", yellow(fmt.Sprintf("%d bone(s) still displaced at end", res.Displaced)))
	}
	if r.plot != "" {
		fmt.Fprintf(w, "  plot %s (%s)\n", r.plot, humanize.Bytes(uint64(r.plotSize)))
	}
	for _, line := range r.status {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// prefixConsole tags bridge output with the scenario name and serializes concurrent replays
type prefixConsole struct {
	mu     *sync.Mutex
	prefix string
	inner  bridge.Console
}

func (c *prefixConsole) Print(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Print("[" + c.prefix + "] " + msg)
}

func (c *prefixConsole) PrintError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.PrintError("[" + c.prefix + "] " + msg)
}
