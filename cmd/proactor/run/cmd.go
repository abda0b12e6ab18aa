package run

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/proactor/pkg/proactor"
	"github.com/randalmurphal/proactor/pkg/proactor/config"
	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/randalmurphal/proactor/pkg/proactor/journal"
)

type options struct {
	configPath     string
	events         int
	producers      int
	backpressure   string
	direct         bool
	journalPath    string
	stageDelay     time.Duration
	cpuRounds      int
	maxConcurrency int
	verbose        bool
}

func NewRunCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a synthetic pipeline and prints a summary",
		Long: `Runs events through a three-stage chain: an event-loop decode, a
blocking store that sleeps for --stage-delay and a cpu-intensive score that
hashes the payload. Prints event outcomes, sink counters and pool stats.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if o.events <= 0 || o.producers <= 0 {
				return errors.New("--events and --producers must be positive")
			}
			_, err := proactor.ParseBackpressure(o.backpressure)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), o, cmd.Flags().Changed("max-concurrency"))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.configPath, "config", "c", "", "settings file (.yaml, .yml or .json)")
	flags.IntVarP(&o.events, "events", "n", 1000, "number of events to send")
	flags.IntVar(&o.producers, "producers", 4, "number of concurrent producers")
	flags.StringVar(&o.backpressure, "backpressure", "", "sink policy: wait, fail or drop (default from settings)")
	flags.BoolVar(&o.direct, "direct", false, "run every stage on the producer goroutine")
	flags.StringVar(&o.journalPath, "journal", "", "record outcomes in this SQLite file")
	flags.DurationVar(&o.stageDelay, "stage-delay", time.Millisecond, "sleep in the blocking stage")
	flags.IntVar(&o.cpuRounds, "cpu-rounds", 1000, "hash rounds in the cpu-intensive stage")
	flags.IntVar(&o.maxConcurrency, "max-concurrency", 0, "events in flight, 0 for unlimited (overrides settings)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log at debug level")
	return cmd
}

func run(ctx context.Context, out io.Writer, o *options, maxSet bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []proactor.Option{proactor.WithLogger(logger)}
	if o.configPath != "" {
		cfg, err := config.FromFile(o.configPath)
		if err != nil {
			return err
		}
		opts = append(opts, proactor.WithConfig(cfg))
	}
	if maxSet {
		opts = append(opts, proactor.WithMaxConcurrency(o.maxConcurrency))
	}

	var store journal.Store
	if o.journalPath != "" {
		sqlite, err := journal.NewSQLiteStore(o.journalPath)
		if err != nil {
			return err
		}
		defer sqlite.Close()
		store = sqlite
		opts = append(opts, proactor.WithJournal(store))
	}

	newStrategy := proactor.NewProactor
	if o.direct {
		newStrategy = proactor.NewDirect
	}
	s, err := newStrategy(opts...)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Dispose(context.WithoutCancel(ctx))

	var sinkOpts []proactor.SinkOption
	if o.backpressure != "" {
		bp, _ := proactor.ParseBackpressure(o.backpressure)
		sinkOpts = append(sinkOpts, proactor.WithBackpressure(bp))
	}
	sink, err := s.CreateSink(syntheticChain(o), sinkOpts...)
	if err != nil {
		return err
	}

	start := time.Now()
	events := produce(ctx, sink, o)
	outcomes := make(map[event.Status]int)
	for _, ev := range events {
		outcome, err := ev.Completion().Wait(ctx)
		if err != nil {
			return err
		}
		outcomes[outcome.Status]++
	}
	elapsed := time.Since(start)
	stats := s.Stats()

	if err := s.Dispose(ctx); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "strategy\t%s\n", s.Variant())
	fmt.Fprintf(w, "backpressure\t%s\n", sink.Policy())
	fmt.Fprintf(w, "events\t%d\n", len(events))
	fmt.Fprintf(w, "elapsed\t%s\n", elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "throughput\t%.0f events/s\n", float64(len(events))/elapsed.Seconds())
	for _, status := range []event.Status{event.StatusSucceeded, event.StatusFailed, event.StatusCancelled} {
		fmt.Fprintf(w, "%s\t%d\n", status, outcomes[status])
	}
	sinkStats := sink.Stats()
	fmt.Fprintf(w, "sink accepted\t%d\n", sinkStats.Accepted)
	fmt.Fprintf(w, "sink rejected\t%d\n", sinkStats.Rejected)
	fmt.Fprintf(w, "admission rejected\t%d\n", stats.Admission.Rejected)
	for _, name := range slices.Sorted(maps.Keys(stats.Pools)) {
		p := stats.Pools[name]
		fmt.Fprintf(w, "pool %s\tworkers=%d completed=%d rejected=%d\n", name, p.Parallelism, p.Completed, p.Rejected)
	}
	if store != nil {
		counts, err := store.Counts(sink.Chain().Name())
		if err != nil {
			return err
		}
		for _, status := range slices.Sorted(maps.Keys(counts)) {
			fmt.Fprintf(w, "journal %s\t%d\n", status, counts[status])
		}
	}
	return w.Flush()
}

// produce sends o.events events from o.producers goroutines and returns
// every event, accepted or not.
func produce(ctx context.Context, sink *proactor.Sink, o *options) []*event.Event {
	events := make([]*event.Event, o.events)
	var wg sync.WaitGroup
	for p := range o.producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := p; i < o.events; i += o.producers {
				ev := event.New(ctx, fmt.Sprintf("event-%d", i))
				// Refused events carry the error in their completion.
				_ = sink.Accept(ev)
				events[i] = ev
			}
		}()
	}
	wg.Wait()
	return events
}

func syntheticChain(o *options) *proactor.Chain {
	return proactor.MustChain("synthetic",
		proactor.NewProcessor("decode", proactor.EventLoop,
			func(_ proactor.Context, ev *event.Event) (*event.Event, error) {
				s, _ := ev.Payload().(string)
				return ev.WithPayload([]byte(s)), nil
			}),
		proactor.NewProcessor("store", proactor.Blocking,
			func(ctx proactor.Context, ev *event.Event) (*event.Event, error) {
				select {
				case <-time.After(o.stageDelay):
					return ev.WithMetadata("stored", "true"), nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}),
		proactor.NewProcessor("score", proactor.CPUIntensive,
			func(_ proactor.Context, ev *event.Event) (*event.Event, error) {
				b, _ := ev.Payload().([]byte)
				sum := sha256.Sum256(b)
				for range o.cpuRounds {
					sum = sha256.Sum256(sum[:])
				}
				return ev.WithMetadata("score", fmt.Sprintf("%x", sum[:4])), nil
			}),
	)
}
