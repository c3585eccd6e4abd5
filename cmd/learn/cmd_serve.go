package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DavinciDreams/Megawatts-sub008/internal/config"
	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/metrics"
	"github.com/DavinciDreams/Megawatts-sub008/internal/pipeline"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

var (
	serveInput   string
	serveMetrics string
	serveWatch   bool
)

// serveCmd runs the ingestion loop
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream interactions through batched learning cycles",
	Long: `Reads newline-delimited JSON interactions (a file, or - for stdin) and runs
a learning cycle every serve.batch_size interactions or serve.flush_interval,
whichever comes first.

With metrics.enabled, Prometheus metrics are served on metrics.addr at
/metrics. With --watch, edits to the config file push new constraints into
the running engine.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signals, err := readSignals(serveMetrics)
	if err != nil {
		return err
	}
	in, err := openInput(serveInput)
	if err != nil {
		return err
	}
	defer in.Close()

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	if _, err := engine.Adapter().RegisterCapabilities(ctx); err != nil {
		logging.PipelineError("Registering capabilities failed: %v", err)
	}

	var (
		ln  net.Listener
		srv *http.Server
	)
	if cfg.Metrics.Enabled {
		if ln, err = net.Listen("tcp", cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics server on %s: %w", cfg.Metrics.Addr, err)
		}
		srv = newMetricsServer()
		if logger != nil {
			logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))
		}
	}

	if serveWatch {
		w, err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			engine.UpdateConstraints(types.FullUpdate(next.Constraints))
		})
		if err != nil {
			logging.ConfigWarn("Config hot reload disabled: %v", err)
		} else {
			defer w.Stop()
		}
	}

	// The first member to fail cancels the rest. The loop ending cancels the
	// metrics server.
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	ch := make(chan types.Interaction)
	g.Go(func() error {
		defer close(ch)
		return streamInteractions(gctx, in, ch)
	})

	out := cmd.OutOrStdout()
	g.Go(func() error {
		defer cancel()
		err := engine.Serve(gctx, ch, pipeline.ServeOptions{
			BatchSize:     cfg.Serve.BatchSize,
			FlushInterval: cfg.GetFlushInterval(),
			Signals:       func() []types.IntegrationMetrics { return signals },
			OnCycle: func(r *pipeline.CycleResult) {
				fmt.Fprintf(out, "cycle: %d patterns accepted, %d behaviors adapted, %d deactivated\n",
					len(r.AcceptedPatterns), len(r.Adaptation.BehaviorIDs), len(r.Deactivated))
			},
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// streamInteractions decodes JSONL from r into ch until EOF or ctx is done.
// Malformed lines are logged and skipped. Cancelling ctx returns at once even
// while a read is blocked; the scanning goroutine exits with the reader.
func streamInteractions(ctx context.Context, r io.Reader, ch chan<- types.Interaction) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- sc.Err()
	}()

	line := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			line++
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			var i types.Interaction
			if err := json.Unmarshal([]byte(text), &i); err != nil {
				logging.Get(logging.CategoryPipeline).Warn("Skipping line %d: %v", line, err)
				continue
			}
			select {
			case ch <- i:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func newMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func init() {
	serveCmd.Flags().StringVarP(&serveInput, "input", "i", "-", "Interactions JSONL file (- for stdin)")
	serveCmd.Flags().StringVarP(&serveMetrics, "metrics", "m", "", "Integration metrics JSON file")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload constraints when the config file changes")
}
