package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tapwise/internal/automation"
	"github.com/xkilldash9x/tapwise/internal/cache"
	"github.com/xkilldash9x/tapwise/internal/config"
	"github.com/xkilldash9x/tapwise/internal/definition"
	"github.com/xkilldash9x/tapwise/internal/observability"
	"github.com/xkilldash9x/tapwise/internal/service"
)

// ErrSequencesFailed is returned when any sequence did not finish every action.
var ErrSequencesFailed = errors.New("one or more sequences failed")

type runOptions struct {
	devices    []string
	appContext string
	dryRun     string
	output     string
}

func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run <sequence.yaml|dir>...",
		Short: "Run sequence definitions on every selected device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSequences(ctx, observability.GetLogger(), cfg, args, opts, factory, cmd.OutOrStdout())
		},
	}
	runCmd.Flags().StringSliceVarP(&opts.devices, "device", "d", nil, "adb serial to drive (repeatable; default is every attached device)")
	runCmd.Flags().StringVar(&opts.appContext, "app-context", "", "app context for cached positions (overrides config and definitions)")
	runCmd.Flags().StringVar(&opts.dryRun, "dry-run", "", "OCR fixture JSON; runs against a scripted mock device")
	runCmd.Flags().StringVarP(&opts.output, "output", "o", "", "write a JSON run report to this file ('-' for stdout)")
	return runCmd
}

// applyRunOverrides folds flags and definition settings into cfg.
func applyRunOverrides(cfg *config.Config, defs []definition.Definition, opts runOptions) error {
	if len(opts.devices) > 0 {
		cfg.SetDeviceSerials(opts.devices)
	}
	if opts.dryRun != "" {
		cfg.DeviceCfg.Driver = service.DriverMock
		cfg.OCRCfg.Engine = service.EngineFixture
		cfg.OCRCfg.FixturePath = opts.dryRun
	}

	if opts.appContext != "" {
		cfg.SetSequencerAppContext(opts.appContext)
		return nil
	}
	// One sequencer config serves every definition, so they must agree.
	var appContext string
	for _, d := range defs {
		if d.AppContext == "" {
			continue
		}
		if appContext != "" && appContext != d.AppContext {
			return fmt.Errorf("definitions disagree on app_context (%q vs %q); pass --app-context or run them separately", appContext, d.AppContext)
		}
		appContext = d.AppContext
	}
	if appContext != "" {
		cfg.SetSequencerAppContext(appContext)
	}
	return nil
}

func runSequences(ctx context.Context, logger *zap.Logger, cfg *config.Config, paths []string, opts runOptions, factory service.ComponentFactory, out io.Writer) error {
	defs, err := definition.NewLoader().LoadAll(paths)
	if err != nil {
		return fmt.Errorf("failed to load sequence definitions: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("no sequence definitions found in %v", paths)
	}
	if err := applyRunOverrides(cfg, defs, opts); err != nil {
		return err
	}
	// Validate every definition before touching a device.
	build := func() ([]*automation.Sequence, error) {
		seqs := make([]*automation.Sequence, 0, len(defs))
		for _, d := range defs {
			seq, err := d.Build()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.SourceFile, err)
			}
			seqs = append(seqs, seq)
		}
		return seqs, nil
	}
	if _, err := build(); err != nil {
		return err
	}

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	// An interrupt stops sequences at their next pause rather than
	// abandoning a device mid-command.
	stopOnSignal := context.AfterFunc(ctx, func() {
		logger.Warn("Interrupt received, stopping sequences.")
		components.Stop()
	})
	defer stopOnSignal()

	started := time.Now()
	results, runErr := components.RunAll(context.WithoutCancel(ctx), build)
	report := newRunReport(started, components, results)

	writeSummary(out, report)
	if opts.output != "" {
		if err := writeReport(opts.output, out, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if report.Failed > 0 {
		return ErrSequencesFailed
	}
	return nil
}

// RunReport is the JSON document written by `run --output`.
type RunReport struct {
	Version   string          `json:"version"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Sessions  []SessionReport `json:"sessions"`
	Cache     cache.Export    `json:"cache"`

	sequences []service.SequenceResult
}

type SessionReport struct {
	Device     string                 `json:"device"`
	Sequences  []*automation.Sequence `json:"sequences"`
	Statistics automation.Statistics  `json:"statistics"`
}

func newRunReport(started time.Time, c *service.Components, results []service.SequenceResult) *RunReport {
	r := &RunReport{Version: Version, StartedAt: started, Duration: time.Since(started), sequences: results}
	bySession := make(map[string]*SessionReport)
	for _, sess := range c.Sessions {
		sr := &SessionReport{Device: sess.Name, Statistics: sess.Sequencer.Statistics()}
		bySession[sess.Name] = sr
	}
	for _, res := range results {
		if res.Sequence == nil {
			r.Failed++
			continue
		}
		if sr, ok := bySession[res.Session]; ok {
			sr.Sequences = append(sr.Sequences, res.Sequence)
		}
		if !res.Sequence.Partial && res.Sequence.Succeeded() == len(res.Sequence.Actions) {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
	for _, sess := range c.Sessions {
		r.Sessions = append(r.Sessions, *bySession[sess.Name])
	}
	if c.Cache != nil {
		r.Cache = c.Cache.Export(context.Background())
	}
	return r
}

func writeSummary(w io.Writer, r *RunReport) {
	for _, res := range r.sequences {
		if res.Sequence == nil {
			fmt.Fprintf(w, "[%s] error: %v\n", res.Session, res.Err)
			continue
		}
		s := res.Sequence
		status := "ok"
		if s.Partial {
			status = "stopped: " + string(s.StopReason)
		} else if s.Succeeded() < len(s.Actions) {
			status = "failed"
		}
		fmt.Fprintf(w, "[%s] %s: %d/%d actions succeeded in %s (%s)\n",
			res.Session, s.Name, s.Succeeded(), len(s.Actions), s.Duration().Round(time.Millisecond), status)
		for _, a := range s.Results {
			if a.Status == automation.StatusFailed {
				fmt.Fprintf(w, "    #%d %s: %s after %d attempt(s): %s\n", a.Index, a.Description, a.ErrorKind, a.AttemptsUsed, a.ErrorMessage)
			}
		}
	}
	st := r.Cache.Stats
	fmt.Fprintf(w, "Cache: %d lookups, %.0f%% hit rate, %d entries in memory\n", st.Requests, st.HitRate*100, st.MemorySize)
}

func writeReport(path string, stdout io.Writer, r *RunReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}
