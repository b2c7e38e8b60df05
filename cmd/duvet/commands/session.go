// Package commands implements CLI command handlers for duvet.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/duvet/pkg/config"
	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/gitlib"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/linediff"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/recorder"
	"github.com/Sumatoshi-tech/duvet/pkg/store"
	"github.com/Sumatoshi-tech/duvet/pkg/version"
)

// ErrTestsFailed is returned when a run had failing or erroring tests.
var ErrTestsFailed = errors.New("tests failed")

// GlobalOptions holds flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	Workdir    string
	LogLevel   string
}

// Register binds the options to flags.
func (g *GlobalOptions) Register(flags *pflag.FlagSet) {
	flags.StringVar(&g.ConfigPath, "config", "", "Config file (default: <workdir>/"+config.FileName+")")
	flags.StringVarP(&g.Workdir, "workdir", "C", "", "Working directory (default: current directory)")
	flags.StringVar(&g.LogLevel, "log-level", "", "Override logging.level: debug, info, warn, error")
}

func (g *GlobalOptions) resolveWorkdir() (string, error) {
	dir := g.Workdir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}

		dir = wd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}

	return abs, nil
}

func (g *GlobalOptions) loadConfig() (*config.Config, string, error) {
	workdir, err := g.resolveWorkdir()
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.LoadConfig(g.ConfigPath, workdir)
	if err != nil {
		return nil, "", err
	}

	if g.LogLevel != "" {
		_, err = observability.ParseLevel(g.LogLevel)
		if err != nil {
			return nil, "", err
		}

		cfg.Logging.Level = g.LogLevel
	}

	return cfg, workdir, nil
}

// sessionOptions tunes openSession.
type sessionOptions struct {
	mode observability.AppMode
}

// Session is the per-process wiring: configuration, telemetry, the store
// and, when the working directory is inside a repository, the analyzer and
// recorder bound to it.
type Session struct {
	Config   *config.Config
	Workdir  string
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *observability.SelectionMetrics
	Store    *store.Store
	Repo     *gitlib.Repository
	Differ   *linediff.Differ
	Analyzer *impact.Analyzer
	Recorder *recorder.Recorder
	Filter   *recorder.ModuleFilter

	providers observability.Providers
}

func openSession(ctx context.Context, globals *GlobalOptions, opts sessionOptions) (*Session, error) {
	cfg, workdir, err := globals.loadConfig()
	if err != nil {
		return nil, err
	}

	providers, err := observability.Init(cfg.Observability(opts.mode, version.Version))
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	sess := &Session{
		Config:    cfg,
		Workdir:   workdir,
		Logger:    providers.Logger,
		Tracer:    providers.Tracer,
		Differ:    linediff.New(cfg.DiffOptions()),
		providers: providers,
	}

	err = sess.open(ctx)
	if err != nil {
		return nil, errors.Join(err, sess.Close(ctx))
	}

	return sess, nil
}

func (s *Session) open(ctx context.Context) error {
	metrics, err := observability.NewSelectionMetrics(s.providers.Meter)
	if err != nil {
		return err
	}

	s.Metrics = metrics

	s.Filter, err = recorder.NewModuleFilter(recorder.FilterOptions{
		Packages:     s.Config.PackageFilter,
		Exclude:      s.Config.ExcludeFiles,
		Root:         s.Workdir,
		IncludeTests: s.Config.IncludeTestModules,
	})
	if err != nil {
		return err
	}

	s.Store, err = store.Open(ctx, s.Config.StorePath(s.Workdir), store.WithLogger(s.Logger))
	if err != nil {
		return err
	}

	analyzerOpts := []impact.Option{
		impact.WithLogger(s.Logger),
		impact.WithTracer(s.Tracer),
		impact.WithMetrics(s.Metrics),
		impact.WithDiffer(s.Differ),
	}
	recorderOpts := []recorder.Option{recorder.WithLogger(s.Logger), recorder.WithMetrics(s.Metrics)}

	commit, repo, repoErr := s.openRepository(ctx)
	if repoErr != nil {
		s.Logger.WarnContext(ctx, "no usable git repository; every test is treated as modified and nothing is recorded",
			"workdir", s.Workdir, "error", repoErr)

		s.Analyzer = impact.Disabled(analyzerOpts...)
		s.Recorder = recorder.Disabled(recorderOpts...)

		return nil
	}

	s.Repo = repo
	s.Analyzer = impact.New(repo, s.Store, analyzerOpts...)
	s.Recorder = recorder.New(s.Store, s.Filter, commit, recorderOpts...)

	s.Logger.DebugContext(ctx, "session ready",
		"workdir", repo.WorkDir(), "commit", commit.String(), "store", s.Store.Path())

	return nil
}

// eraseStore clears every record. Only a run clears the store; commands that
// read history never do.
func (s *Session) eraseStore(ctx context.Context) error {
	err := s.Store.EraseAll(ctx)
	if err != nil {
		return err
	}

	s.Logger.InfoContext(ctx, "erased coverage store", "path", s.Store.Path())

	return nil
}

func (s *Session) openRepository(ctx context.Context) (coverage.CommitID, *gitlib.Repository, error) {
	repo, err := gitlib.OpenRepository(s.Workdir)
	if err != nil {
		return coverage.DirtyCommit, nil, err
	}

	commit, err := repo.CurrentCommit(ctx)
	if err != nil {
		repo.Free()

		return coverage.DirtyCommit, nil, err
	}

	return commit, repo, nil
}

// Close releases the repository and the store and flushes telemetry.
func (s *Session) Close(ctx context.Context) error {
	var errs []error

	if s.Repo != nil {
		s.Repo.Free()
		s.Repo = nil
	}

	if s.Store != nil {
		errs = append(errs, s.Store.Close())
		s.Store = nil
	}

	if s.providers.Shutdown != nil {
		errs = append(errs, s.providers.Shutdown(ctx))
		s.providers.Shutdown = nil
	}

	return errors.Join(errs...)
}

// closeSession closes sess, logging instead of failing the command.
func closeSession(ctx context.Context, sess *Session) {
	err := sess.Close(context.WithoutCancel(ctx))
	if err != nil {
		sess.Logger.WarnContext(ctx, "session close failed", "error", err)
	}
}
