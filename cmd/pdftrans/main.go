// Command pdftrans translates the text of a PDF page by page, writing the
// result next to the source as <name>_zh.pdf unless an output path is given.
//
// Usage:
//
//	pdftrans [-config file] <source.pdf> [output.pdf]
//	pdftrans [-config file] init
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"pdf-translator/internal/config"
	"pdf-translator/internal/layout"
	"pdf-translator/internal/llm"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/pdf"
	"pdf-translator/internal/quota"
	"pdf-translator/internal/rate"
	"pdf-translator/internal/retry"
	"pdf-translator/internal/translator"
	"pdf-translator/internal/types"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pdftrans", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (.json, .yaml); default $PDFTRANS_CONFIG or ~/.config/pdf-translator/")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: pdftrans [-config file] <source.pdf> [output.pdf]")
		fmt.Fprintln(stderr, "       pdftrans [-config file] init")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return exitUsage
	}

	cm, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	if fs.NArg() == 1 && fs.Arg(0) == "init" {
		return writeConfig(cm, stdout, stderr)
	}

	if err := cm.Load(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	if err := cm.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	cfg := cm.GetConfig()

	if err := initLogger(cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer logger.Close()

	src := fs.Arg(0)
	out := fs.Arg(1)
	if out == "" {
		out = pdf.DefaultOutputPath(src, cfg.OutputSuffix)
	}

	runID := uuid.NewString()
	logger.Info("starting translation",
		logger.String("run", runID),
		logger.String("source", src),
		logger.String("output", out),
		logger.String("backend", cfg.Backend),
		logger.String("model", cfg.Model))

	svc, counter, err := newService(ctx, cfg)
	if err != nil {
		logger.Error("setup failed", err, logger.String("run", runID))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	if closer, ok := counter.(io.Closer); ok {
		defer closer.Close()
	}

	fitter, err := newFitter(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	pt := pdf.NewPDFTranslator(svc, fitter, pdf.Options{
		Workers: cfg.Workers,
		Editor:  pdf.EditorOptions{FontPath: cfg.FontPath, FontIndex: cfg.FontIndex},
	})

	fmt.Fprintf(stdout, "Input:  %s\n", src)
	fmt.Fprintf(stdout, "Output: %s\n", out)
	result, err := pt.TranslatePDF(ctx, src, out, func(page, total int) {
		fmt.Fprintf(stdout, "\r[%d/%d] pages", page, total)
	})
	fmt.Fprintln(stdout)
	if err != nil {
		logger.Error("translation failed", err, logger.String("run", runID))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	printSummary(stdout, result, svc.Stats())
	return exitOK
}

func writeConfig(cm *config.ConfigManager, stdout, stderr io.Writer) int {
	if _, err := os.Stat(cm.GetConfigPath()); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", cm.GetConfigPath())
		return exitFailed
	}
	if err := cm.Save(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	fmt.Fprintf(stdout, "Wrote default configuration to %s\n", cm.GetConfigPath())
	return exitOK
}

func initLogger(cfg *types.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	lc := logger.DefaultConfig()
	lc.LogFilePath = cfg.LogFile
	lc.Level = level
	return logger.Init(lc)
}

// newService wires the backend with the shared limiter, quota and retry policy.
func newService(ctx context.Context, cfg *types.Config) (*translator.Service, quota.Counter, error) {
	backend, err := llm.New(cfg.Backend, llm.Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		PoolSize:    cfg.ClientPoolSize,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		if errors.Is(err, llm.ErrUnsupportedBackend) {
			return nil, nil, types.NewAppError(types.ErrConfig, "unsupported backend", err)
		}
		return nil, nil, types.NewAppError(types.ErrConfig, "failed to create backend", err)
	}

	counter, err := newCounter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.MaxElapsed = time.Duration(cfg.RetryMaxElapsedSeconds) * time.Second
	policy.BaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("backend call failed, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err))
	}

	svc := translator.New(backend,
		rate.NewLimiter(cfg.RateMaxCalls, time.Duration(cfg.RatePeriodSeconds)*time.Second, nil),
		quota.NewDailyQuota(counter, cfg.DailyLimit),
		translator.Options{
			TargetLanguage: cfg.TargetLanguage,
			Retry:          policy,
			Undetermined:   translator.UndeterminedPolicy(cfg.UndeterminedPolicy),
		})
	return svc, counter, nil
}

// redisCounter closes its client with the run.
type redisCounter struct {
	*quota.RedisCounter
	client *goredis.Client
}

func (c redisCounter) Close() error { return c.client.Close() }

func newCounter(ctx context.Context, cfg *types.Config) (quota.Counter, error) {
	if cfg.RedisAddr == "" {
		return quota.NewMemoryCounter(cfg.QuotaReset == config.QuotaResetDaily), nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, types.NewAppErrorWithDetails(types.ErrConfig, "cannot reach redis", cfg.RedisAddr, err)
	}
	if cfg.QuotaReset != config.QuotaResetDaily {
		logger.Warn("redis quota always resets at UTC midnight", logger.String("quota_reset", cfg.QuotaReset))
	}
	return redisCounter{RedisCounter: quota.NewRedisCounter(client), client: client}, nil
}

func newFitter(cfg *types.Config) (*layout.Fitter, error) {
	var m layout.Measurer = layout.HeuristicMeasurer{}
	if cfg.FontPath != "" {
		fm, err := layout.LoadFontMeasurer(cfg.FontPath, cfg.FontIndex)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrConfig, "cannot load font", cfg.FontPath, err)
		}
		m = fm
	} else {
		logger.Warn("no font_path configured; using Helvetica, which has no CJK glyphs")
	}
	return &layout.Fitter{Measurer: m, ShrinkFactor: cfg.ShrinkFactor, MinFontSize: cfg.MinFontSize}, nil
}

func printSummary(w io.Writer, r *pdf.TranslationResult, s translator.Stats) {
	fmt.Fprintf(w, "\n=== Translation Complete ===\n")
	fmt.Fprintf(w, "Pages:              %d (%d failed)\n", r.Pages, r.FailedPages)
	fmt.Fprintf(w, "Candidate blocks:   %d\n", r.CandidateBlocks)
	fmt.Fprintf(w, "Translated:         %d\n", r.TranslatedBlocks)
	fmt.Fprintf(w, "Skipped (no text):  %d\n", r.SkippedUntranslated)
	fmt.Fprintf(w, "Skipped (overflow): %d\n", r.SkippedOverflow)
	fmt.Fprintf(w, "Backend calls:      %d (%d failed, %d over quota)\n", s.Calls, s.Failures, s.QuotaRejected)
	fmt.Fprintf(w, "Elapsed:            %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Output:             %s\n", r.TranslatedPDFPath)
}
