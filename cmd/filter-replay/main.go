// Command filter-replay feeds a recorded measurement stream through one
// filter session per track and reports NEES/NIS consistency.
package main

import (
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
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/trackfilter/internal/config"
	"github.com/banshee-data/trackfilter/internal/db"
	"github.com/banshee-data/trackfilter/internal/monitoring"
	"github.com/banshee-data/trackfilter/internal/replay"
	"github.com/banshee-data/trackfilter/internal/report"
	"github.com/banshee-data/trackfilter/internal/security"
	"github.com/banshee-data/trackfilter/internal/version"
)

// Config holds the command line options.
type Config struct {
	Input       string
	ConfigPath  string
	DBPath      string
	PlotPath    string
	ChartPath   string
	Listen      string
	Label       string
	Speed       float64
	Concurrency int
	Verbose     bool
	Trace       bool
	ShowVersion bool
}

func main() {
	cfg := parseFlags(flag.CommandLine, os.Args[1:])

	if cfg.ShowVersion {
		fmt.Println(version.String())
		return
	}
	configureLogging(cfg, os.Stderr)

	if cfg.Input == "" {
		log.Fatal("input CSV is required (-input)")
	}

	tuning, err := loadTuning(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load filter config: %v", err)
	}

	f, err := os.Open(cfg.Input)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}
	records, err := replay.ReadCSV(f, tuning.GetDims())
	f.Close()
	if err != nil {
		log.Fatalf("Failed to read %s: %v", cfg.Input, err)
	}

	var store *db.DB
	if cfg.DBPath != "" {
		store, err = db.NewDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	label := cfg.Label
	if label == "" {
		label = strings.TrimSuffix(filepath.Base(cfg.Input), filepath.Ext(cfg.Input))
	}
	runner, err := replay.NewRunner(replay.Options{
		Config:         tuning,
		Store:          store,
		Label:          label,
		Speed:          cfg.Speed,
		MaxConcurrency: cfg.Concurrency,
	})
	if err != nil {
		log.Fatalf("Invalid replay options: %v", err)
	}

	start := time.Now()
	res, err := runner.Run(ctx, records)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	printResults(os.Stdout, res, time.Since(start))

	if cfg.PlotPath != "" {
		files, err := writePlots(cfg.PlotPath, label, res.Series())
		if err != nil {
			log.Printf("Warning: failed to write plots: %v", err)
		}
		for _, f := range files {
			log.Printf("Plot written to: %s", f)
		}
	}
	if cfg.ChartPath != "" {
		if err := writeChart(cfg.ChartPath, label, res.Series()); err != nil {
			log.Printf("Warning: failed to write chart: %v", err)
		} else {
			log.Printf("Chart written to: %s", cfg.ChartPath)
		}
	}

	if cfg.Listen != "" {
		if err := serve(ctx, cfg.Listen, store, res); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}
}

func parseFlags(fs *flag.FlagSet, args []string) Config {
	cfg := Config{}

	fs.StringVar(&cfg.Input, "input", "", "Replay CSV: track,time_s,kind,variance,z1..zM[,truth1..]")
	fs.StringVar(&cfg.ConfigPath, "config", "", "Filter tuning JSON (default: "+config.DefaultConfigPath+" if present)")
	fs.StringVar(&cfg.DBPath, "db", "", "SQLite database to record the run in (optional)")
	fs.StringVar(&cfg.PlotPath, "plot", "", "PNG path for NEES/NIS plots, suffixed per statistic")
	fs.StringVar(&cfg.ChartPath, "chart", "", "HTML path for the interactive NEES/NIS chart")
	fs.StringVar(&cfg.Listen, "listen", "", "Serve debug pages on this address after the replay (e.g. localhost:8081)")
	fs.StringVar(&cfg.Label, "label", "", "Run label (default: input file name)")
	fs.Float64Var(&cfg.Speed, "speed", 0, "Replay at this multiple of real time; 0 replays as fast as possible")
	fs.IntVar(&cfg.Concurrency, "concurrency", 0, "Maximum tracks replayed at once; 0 is unbounded")
	fs.BoolVar(&cfg.Verbose, "v", false, "Enable the diagnostic log stream")
	fs.BoolVar(&cfg.Trace, "trace", false, "Enable the per-step trace log stream")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")

	// ExitOnError flag sets never return an error.
	_ = fs.Parse(args)

	return cfg
}

func configureLogging(cfg Config, w io.Writer) {
	writers := monitoring.LogWriters{Ops: w}
	if cfg.Verbose || cfg.Trace {
		writers.Diag = w
	}
	if cfg.Trace {
		writers.Trace = w
	}
	monitoring.SetLogWriters(writers)
}

// loadTuning reads path, or the default tuning file when path is empty and
// the file exists, or falls back to built-in defaults.
func loadTuning(path string) (*config.FilterConfig, error) {
	if path != "" {
		return config.LoadFilterConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadFilterConfig(config.DefaultConfigPath)
	}
	return config.DefaultFilterConfig(), nil
}

func printResults(w io.Writer, res *replay.Result, elapsed time.Duration) {
	fmt.Fprintf(w, "\n=== Replay Results ===\n")
	if res.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", res.RunID)
	}
	fmt.Fprintf(w, "Tracks: %d  Elapsed: %v\n", len(res.Tracks), elapsed.Round(time.Millisecond))
	for _, tr := range res.Tracks {
		fmt.Fprintf(w, "\n--- track %s (session %s) ---\n", tr.TrackID, tr.SessionID)
		statuses := make([]string, 0, len(tr.Counts))
		for s := range tr.Counts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		fmt.Fprintf(w, "steps: %d", tr.Steps)
		for _, s := range statuses {
			fmt.Fprintf(w, "  %s=%d", s, tr.Counts[s])
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, tr.CheckString)
	}
}

func writePlots(path, label string, series []report.Series) ([]string, error) {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		path = filepath.Join(path, security.SanitizeFilename(label)+".png")
	}
	if err := security.ValidateOutputPath(path); err != nil {
		return nil, err
	}
	return report.WritePlots(path, series)
}

func writeChart(path, label string, series []report.Series) error {
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteChart(f, label, series); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// seriesSource serves the chart of ?run=ID from the store, or of the run
// just replayed.
func seriesSource(store *db.DB, res *replay.Result) report.SeriesSource {
	return func(ctx context.Context, r *http.Request) (string, []report.Series, error) {
		runID := r.URL.Query().Get("run")
		if runID == "" || store == nil {
			if runID != "" && runID != res.RunID {
				return "", nil, errors.New("no database to load other runs from")
			}
			return "Replay " + res.RunID, res.Series(), nil
		}
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return "", nil, err
		}
		tracks, err := store.TrackIDs(ctx, runID)
		if err != nil {
			return "", nil, err
		}
		reports, err := store.Reports(ctx, runID)
		if err != nil {
			return "", nil, err
		}
		var series []report.Series
		for _, id := range tracks {
			steps, err := store.Steps(ctx, runID, id)
			if err != nil {
				return "", nil, err
			}
			series = append(series, report.FromSteps(id, steps, reports)...)
		}
		return fmt.Sprintf("Run %s (%s)", run.Label, run.ID), series, nil
	}
}

func newMux(store *db.DB, res *replay.Result) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	mux.Handle("/chart", report.Handler(seriesSource(store, res)))
	return mux, nil
}

func serve(ctx context.Context, addr string, store *db.DB, res *replay.Result) error {
	mux, err := newMux(store, res)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Serving chart at http://%s/chart", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
