// Command fusion-replay runs a recorded JSON-lines log through the
// velocity/position/height correction stage, records a debug snapshot per
// frame to SQLite and optionally renders innovation reports.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/navfusion/internal/config"
	"github.com/banshee-data/navfusion/internal/ekf"
	"github.com/banshee-data/navfusion/internal/monitoring"
	"github.com/banshee-data/navfusion/internal/replay"
	"github.com/banshee-data/navfusion/internal/telemetry"
	"github.com/banshee-data/navfusion/internal/timeutil"
	"github.com/banshee-data/navfusion/internal/version"
)

type options struct {
	configPath string
	inputPath  string
	dbPath     string
	htmlPath   string
	pngPath    string
	listen     string
	label      string
	verbose    bool
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.configPath, "config", "", "Tuning config JSON (built-in defaults when empty)")
	flag.StringVar(&opts.inputPath, "input", "", "JSON-lines replay log (required)")
	flag.StringVar(&opts.dbPath, "db", "fusion.db", "SQLite telemetry database")
	flag.StringVar(&opts.htmlPath, "html", "", "Write an ECharts innovation report to this path")
	flag.StringVar(&opts.pngPath, "png", "", "Write a test-ratio plot to this path")
	flag.StringVar(&opts.listen, "listen", "", "Serve /debug/ on this address after the replay until interrupted")
	flag.StringVar(&opts.label, "label", "", "Run label (defaults to the input file name)")
	flag.BoolVar(&opts.verbose, "v", false, "Log every gate rejection")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.String("fusion-replay"))
		return
	}
	if opts.inputPath == "" {
		log.Fatal("-input is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("fusion-replay: %v", err)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	monitoring.SetVerbose(opts.verbose)

	cfg := config.EmptyTuningConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(opts.configPath); err != nil {
			return err
		}
	}

	fh, err := os.Open(opts.inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	frames, err := replay.ReadFrames(fh)
	fh.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", opts.inputPath, err)
	}

	clock := timeutil.RealClock{}
	rec, err := telemetry.OpenRecorder(opts.dbPath, clock)
	if err != nil {
		return err
	}
	defer rec.Close()

	label := opts.label
	if label == "" {
		label = filepath.Base(opts.inputPath)
	}
	runID, err := rec.StartRun(ctx, label)
	if err != nil {
		return err
	}

	pred := replay.PredictorFromConfig(cfg)
	filter := ekf.NewFilter(ekf.ParamsFromConfig(cfg), ekf.WithInitialCovariance(pred.InitialVariances()))

	start := clock.Now()
	sum, err := replay.NewRunner(filter, pred, rec).Run(ctx, frames)
	monitoring.Logf("replayed %d frames in %s", sum.Frames, clock.Since(start))
	printSummary(stdout, runID, sum)
	if err != nil {
		return err
	}

	if opts.htmlPath != "" || opts.pngPath != "" {
		snaps, err := rec.Snapshots(ctx, runID)
		if err != nil {
			return err
		}
		if opts.htmlPath != "" {
			var buf bytes.Buffer
			if err := telemetry.RenderInnovationReport(&buf, "fusion-replay "+label, snaps); err != nil {
				return err
			}
			if err := os.WriteFile(opts.htmlPath, buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			monitoring.Logf("wrote %s", opts.htmlPath)
		}
		if opts.pngPath != "" {
			if err := telemetry.SaveTestRatioPlot(opts.pngPath, snaps); err != nil {
				return err
			}
			monitoring.Logf("wrote %s", opts.pngPath)
		}
	}

	if opts.listen != "" {
		return serveDebug(ctx, opts.listen, rec)
	}
	return nil
}

func printSummary(w io.Writer, runID string, sum replay.Summary) {
	fmt.Fprintf(w, "run %s: %d frames, %d cycles\n", runID, sum.Frames, sum.Cycles)
	for ch := ekf.ChanVelN; ch < ekf.NumChannels; ch++ {
		fmt.Fprintf(w, "  %-6s active=%d fused=%d unhealthy=%d\n",
			ch, sum.Active[ch], sum.Fused[ch], sum.Unhealthy[ch])
	}
	fmt.Fprintf(w, "  rejects: vel=%d pos=%d hgt=%d\n", sum.VelRejects, sum.PosRejects, sum.HgtRejects)
	fmt.Fprintf(w, "  height skipped: no_source=%d excessive_tilt=%d\n", sum.HeightNoSource, sum.HeightExcessiveTilt)
	fmt.Fprintf(w, "  min eigenvalue of P: %.3g\n", sum.MinEigenvalue)
	s := sum.FinalState
	fmt.Fprintf(w, "  final vel NED: %.3f %.3f %.3f  pos NED: %.3f %.3f %.3f\n",
		s[ekf.VelN], s[ekf.VelE], s[ekf.VelD], s[ekf.PosN], s[ekf.PosE], s[ekf.PosD])
}

func serveDebug(ctx context.Context, addr string, rec *telemetry.Recorder) error {
	mux := http.NewServeMux()
	if err := rec.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	monitoring.Logf("serving debug pages on http://%s/debug/", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
