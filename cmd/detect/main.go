// Command detect submits one image or video to the detection service and prints the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/bryanwahyu/weapon-detect/internal/application/detection"
	"github.com/bryanwahyu/weapon-detect/internal/config"
	"github.com/bryanwahyu/weapon-detect/internal/domain/analytics"
	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
	"github.com/bryanwahyu/weapon-detect/internal/infra/detector"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		baseURL    = flag.String("url", "", "detection service url, overrides config")
		wait       = flag.Duration("wait", 10*time.Minute, "give up after this long")
		out        = flag.String("out", "", "save the processed media to this path")
		asJSON     = flag.Bool("json", false, "print the result and analytics as json")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *baseURL, flag.Arg(0), *wait, *out, *asJSON); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, baseURL, path string, wait time.Duration, out string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if baseURL != "" {
		cfg.Detector.BaseURL = baseURL
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	file, err := localFile(path)
	if err != nil {
		return err
	}

	client, err := detector.New(cfg.Detector.BaseURL, detector.WithLogger(logger))
	if err != nil {
		return err
	}
	o := detection.New(client,
		detection.WithLogger(logger),
		detection.WithFetcher(client),
		detection.WithOnChange(func(s domain.State) {
			if p := detection.Describe(s).Progress; p != "" {
				fmt.Fprintln(os.Stderr, p)
			}
		}),
	)
	defer o.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if _, err := o.Submit(ctx, file); err != nil {
		return err
	}
	st, err := o.Wait(ctx)
	if err != nil {
		return fmt.Errorf("gave up waiting: %w", err)
	}
	if failed, ok := st.(domain.Failed); ok {
		return failed.Err
	}
	success, ok := st.(domain.Success)
	if !ok {
		return fmt.Errorf("unexpected final state %s", st.Phase())
	}

	analytics.Init()
	report, err := o.Analytics()
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"result": success.Result, "analytics": report}); err != nil {
			return err
		}
	} else {
		printResult(os.Stdout, success.Result, report)
	}

	if out != "" {
		if err := saveProcessed(ctx, o, out); err != nil {
			return err
		}
		logger.Info("processed media saved", zap.String("path", out))
	}
	return nil
}

// localFile sniffs the content type from the bytes; file extensions are not trusted.
func localFile(path string) (domain.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.File{}, err
	}
	if info.IsDir() {
		return domain.File{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.File{}, fmt.Errorf("detect content type: %w", err)
	}
	return domain.File{
		Name:        filepath.Base(path),
		ContentType: mt.String(),
		Size:        info.Size(),
		Open:        func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

func printResult(w io.Writer, res *domain.DetectionResult, report analytics.Report) {
	if res.ProcessingTimeSeconds != nil {
		fmt.Fprintf(w, "%s processed in %.2fs\n", res.Kind, *res.ProcessingTimeSeconds)
	}
	if res.FrameStats != nil {
		fmt.Fprintf(w, "frames: %d processed of %d\n", res.FrameStats.ProcessedFrames, res.FrameStats.TotalFrames)
	}

	entries := res.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, "no weapons detected")
		return
	}
	fmt.Fprintln(w, "\nweapons:")
	for _, e := range entries {
		fmt.Fprintf(w, "  %-12s count=%d max=%.1f%% risk=%s\n",
			e.Class, e.Count, e.MaxConfidence*100, e.RiskAssessment.RiskLevel)
		if e.RiskAssessment.ThreatAnalysis != "" {
			fmt.Fprintf(w, "    %s\n", e.RiskAssessment.ThreatAnalysis)
		}
	}

	if !report.Histogram.Empty {
		fmt.Fprintln(w, "\nconfidence:")
		for _, b := range report.Histogram.Buckets {
			fmt.Fprintf(w, "  %-8s %d\n", b.Label, b.Count)
		}
	}
}

func saveProcessed(ctx context.Context, o *detection.Orchestrator, path string) error {
	rc, _, err := o.Processed(ctx)
	if errors.Is(err, detection.ErrNoResult) {
		return errors.New("service returned no processed media")
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
