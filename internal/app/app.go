package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"imessage-undeleter/internal/chatdb"
	"imessage-undeleter/internal/config"
	"imessage-undeleter/internal/database"
	"imessage-undeleter/internal/database/sqlc"
	"imessage-undeleter/internal/diagnostics"
	"imessage-undeleter/internal/encryption"
	"imessage-undeleter/internal/sink"
	"imessage-undeleter/internal/tracker"
	"imessage-undeleter/internal/vault"
)

const (
	metricsNamespace = "undeleter"
	finalizeAttempts = 3
	shutdownTimeout  = 5 * time.Second
)

// UndeleterApp is the application layer between the CLI and the tracker.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the state store lifecycle on Close.
type UndeleterApp struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	encryptor tracker.Encryptor
	logger    tracker.Logger
	clock     tracker.Clock
	ids       tracker.IDGenerator
	console   io.Writer
	op        *RunRecord
	logFile   *os.File
}

// NewApp creates a fully wired UndeleterApp from the given config.
// operation identifies the CLI command being run (see the Op constants).
// Mutating operations migrate the state store; the others require it to be
// current already. The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*UndeleterApp, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(expandEncryption(cfg.Encryption))
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	logDir, err := config.ExpandHome(cfg.LogDir)
	if err != nil {
		return nil, err
	}
	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(logDir, runID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &UndeleterApp{
		cfg:       cfg,
		encryptor: enc,
		logger:    &slogAdapter{l: logger},
		clock:     tracker.RealClock{},
		ids:       tracker.UUIDGenerator{},
		op:        NewRunRecord(operation),
		logFile:   logFile,
	}

	if storeless[operation] {
		return a, nil
	}

	stateCfg := cfg.State
	if stateCfg.DataDir, err = config.ExpandHome(stateCfg.DataDir); err != nil {
		logFile.Close()
		return nil, err
	}
	store, err := database.NewStoreFromConfig(stateCfg)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	if a.op.Mutating() {
		err = store.Migrate()
	} else {
		err = store.CheckMigrations()
	}
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("state store schema: %w", err)
	}

	a.store = store
	return a, nil
}

func expandEncryption(cfg config.EncryptionConfig) config.EncryptionConfig {
	if p, err := config.ExpandHome(cfg.PublicKeyPath); err == nil {
		cfg.PublicKeyPath = p
	}
	if p, err := config.ExpandHome(cfg.PrivateKeyPath); err == nil {
		cfg.PrivateKeyPath = p
	}
	return cfg
}

// persistRun saves the run record, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *UndeleterApp) persistRun(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	run, err := a.store.CreateRun(ctx, a.op.Operation, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting run record: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

func (a *UndeleterApp) requireStore() error {
	if a.store == nil {
		return fmt.Errorf("operation %s does not open the state store", a.op.Operation)
	}
	return nil
}

// Run tracks the message store until ctx is cancelled or the observer fails
// repeatedly. It returns the final loop counters.
func (a *UndeleterApp) Run(ctx context.Context) (tracker.Stats, error) {
	if err := a.requireStore(); err != nil {
		return tracker.Stats{}, err
	}
	if err := a.persistRun(ctx); err != nil {
		return tracker.Stats{}, err
	}

	coord, reader, srv, err := a.buildTracker(ctx)
	if err != nil {
		a.op.Fail()
		return tracker.Stats{}, err
	}
	defer reader.Close()
	if srv != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.logger.Warn("diagnostics shutdown failed", "error", err)
			}
		}()
	}

	err = coord.Run(ctx)
	a.op.Stats = coord.Stats()
	if err != nil {
		a.op.Fail()
		return a.op.Stats, err
	}
	return a.op.Stats, nil
}

// buildTracker opens the message store and wires observer, engine,
// dispatcher and coordinator. The diagnostics server is started when enabled.
func (a *UndeleterApp) buildTracker(ctx context.Context) (*tracker.Coordinator, *chatdb.Reader, *diagnostics.Server, error) {
	cfg := a.cfg

	allowed, err := allowedClassifications(cfg.Detection.Types)
	if err != nil {
		return nil, nil, nil, err
	}
	filter, err := a.newFilter()
	if err != nil {
		return nil, nil, nil, err
	}

	var metrics tracker.Metrics = tracker.NopMetrics{}
	var collector *diagnostics.Collector
	if cfg.Diagnostics.Enabled {
		collector = diagnostics.NewCollector(metricsNamespace)
		metrics = collector
	}

	sinks, err := sink.NewSinksFromConfig(ctx, cfg.Sinks, sink.Dependencies{
		Encryptor: a.encryptor,
		Clock:     a.clock,
		IDs:       a.ids,
		Logger:    a.logger,
		Console:   a.console,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating sinks: %w", err)
	}
	if len(sinks) == 0 {
		a.logger.Warn("no sinks enabled; deletions are only journaled")
	}

	sourcePath, err := config.ExpandHome(cfg.Source.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	reader, err := chatdb.Open(ctx, sourcePath, a.logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening message store: %w", err)
	}

	observer := tracker.NewChangeObserver(reader, a.store, filter, tracker.ObserverConfig{
		MaxBatchSize:  cfg.Observer.MaxBatchSize,
		Lookback:      cfg.Observer.Lookback(),
		TrackedWindow: cfg.Observer.TrackedWindow,
	}, a.clock, a.logger)

	classifiers := tracker.DefaultClassifiers(tracker.ClassifierOptions{
		TreatClearedAsDeleted: cfg.Detection.TreatClearedAsDeleted,
		TrackEdits:            cfg.Detection.TrackEdits,
		RecoverEditContent:    cfg.Detection.RecoverEditContent,
	})
	engine := tracker.NewClassifierEngine(a.store, reader, classifiers, allowed, a.clock, a.logger, metrics)
	dispatcher := tracker.NewSinkDispatcher(sinks, a.logger, metrics)

	coord := tracker.NewCoordinator(tracker.CoordinatorConfig{
		PollInterval:         cfg.Observer.PollInterval(),
		Retention:            cfg.State.Retention(),
		PurgeInterval:        cfg.State.PurgeInterval(),
		MaxConsecutiveErrors: cfg.Observer.MaxConsecutiveErrors,
		DiagnosticsEvery:     cfg.Observer.DiagnosticsEvery,
		FinalizeAttempts:     finalizeAttempts,
	}, a.store, observer, engine, dispatcher, a.clock, a.logger, metrics)

	if collector == nil {
		return coord, reader, nil, nil
	}
	srv := diagnostics.NewServer(cfg.Diagnostics.Addr, collector, coord, a.store, a.clock, a.logger)
	if err := srv.Start(); err != nil {
		reader.Close()
		return nil, nil, nil, fmt.Errorf("starting diagnostics: %w", err)
	}
	return coord, reader, srv, nil
}

// newFilter combines inline conversation patterns with the optional filter file.
func (a *UndeleterApp) newFilter() (*tracker.Filter, error) {
	f := a.cfg.Filters
	conversations := append([]string{}, f.Conversations...)
	if f.File != "" {
		path, err := config.ExpandHome(f.File)
		if err != nil {
			return nil, err
		}
		extra, err := tracker.ParseFilterFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading filter file: %w", err)
		}
		conversations = append(conversations, extra...)
	}
	return tracker.NewFilter(conversations, f.Senders, f.IncludeFromMe), nil
}

func allowedClassifications(types []string) ([]tracker.Classification, error) {
	allowed := make([]tracker.Classification, 0, len(types))
	for _, t := range types {
		c, ok := tracker.ParseClassification(t)
		if !ok {
			return nil, fmt.Errorf("unknown detection type %q", t)
		}
		allowed = append(allowed, c)
	}
	return allowed, nil
}

// Deletions returns journal entries with since <= deletion time < until, newest first.
func (a *UndeleterApp) Deletions(ctx context.Context, since, until time.Time, limit int) ([]*tracker.DeletionRecord, error) {
	if err := a.requireStore(); err != nil {
		return nil, err
	}
	return a.store.QueryDeletions(ctx, since, until, limit)
}

// History returns the most recent run records.
func (a *UndeleterApp) History(ctx context.Context, limit int) ([]*sqlc.Run, error) {
	if err := a.requireStore(); err != nil {
		return nil, err
	}
	return a.store.ListRuns(ctx, limit)
}

// Purge removes state older than the retention window.
func (a *UndeleterApp) Purge(ctx context.Context) (tracker.PurgeResult, error) {
	if err := a.requireStore(); err != nil {
		return tracker.PurgeResult{}, err
	}
	retention := a.cfg.State.Retention()
	if retention <= 0 {
		return tracker.PurgeResult{}, errors.New("retention_days is 0; nothing to purge")
	}
	if err := a.persistRun(ctx); err != nil {
		return tracker.PurgeResult{}, err
	}

	res, err := a.store.PurgeOlderThan(ctx, a.clock.Now().Add(-retention))
	if err != nil {
		a.op.Fail()
		return tracker.PurgeResult{}, err
	}
	a.logger.Info("retention purge", "fingerprints", res.Fingerprints, "deletions", res.Deletions)
	return res, nil
}

// BackupState writes a consistent snapshot of the state store to dest.
func (a *UndeleterApp) BackupState(dest string) error {
	if err := a.requireStore(); err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup destination %s already exists", dest)
	}
	return a.store.BackupTo(dest)
}

// StatusReport summarizes stored state and the monitored store.
type StatusReport struct {
	SourcePath   string
	SourceError  error
	MessageCount int64
	LogSize      int64
	State        database.Summary
	LastRun      *sqlc.Run
}

// Status reads counts from the state store and, when reachable, the message store.
func (a *UndeleterApp) Status(ctx context.Context) (*StatusReport, error) {
	if err := a.requireStore(); err != nil {
		return nil, err
	}
	sum, err := a.store.Summary(ctx)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{State: sum}

	runs, err := a.store.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		report.LastRun = runs[0]
	}

	if report.SourcePath, err = config.ExpandHome(a.cfg.Source.Path); err != nil {
		return nil, err
	}
	reader, err := chatdb.Open(ctx, report.SourcePath, a.logger)
	if err != nil {
		report.SourceError = err
		return report, nil
	}
	defer reader.Close()

	if report.MessageCount, err = reader.MessageCount(ctx); err != nil {
		report.SourceError = err
		return report, nil
	}
	if report.LogSize, err = reader.LogSize(); err != nil {
		report.SourceError = err
	}
	return report, nil
}

// KeysInit generates the archive key pair and returns the public key.
func (a *UndeleterApp) KeysInit(passphrase string) (string, error) {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return "", fmt.Errorf("setting up encryption: %w", err)
	}
	if r, ok := a.encryptor.(interface{ Recipient() (string, error) }); ok {
		return r.Recipient()
	}
	return "", nil
}

// Decrypt reads an archived deletion record from path. Files ending in
// .age are unlocked with passphrase; plaintext archives ignore it.
func (a *UndeleterApp) Decrypt(path, passphrase string) (*tracker.DeletionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	sealed := strings.HasSuffix(path, ".age")
	var dc tracker.DecryptionContext
	if sealed {
		if dc, err = a.encryptor.Unlock(passphrase); err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}
	return sink.DecodeArchived(data, sealed, dc)
}

// archiveVault opens the vault behind the archive sink called name.
func (a *UndeleterApp) archiveVault(ctx context.Context, name string) (tracker.Vault, error) {
	for _, s := range a.cfg.Sinks {
		if s.Type != "archive" || s.SinkName() != name {
			continue
		}
		return vault.NewVaultFromConfig(ctx, *s.Vault)
	}
	return nil, fmt.Errorf("no archive sink named %q", name)
}

// ArchivedKeys lists the records held by the named archive sink.
func (a *UndeleterApp) ArchivedKeys(ctx context.Context, name string) ([]string, error) {
	v, err := a.archiveVault(ctx, name)
	if err != nil {
		return nil, err
	}
	return v.List(sink.ArchivePrefix)
}

// DecryptArchived reads one record from the named archive sink's vault.
func (a *UndeleterApp) DecryptArchived(ctx context.Context, name, key, passphrase string) (*tracker.DeletionRecord, error) {
	v, err := a.archiveVault(ctx, name)
	if err != nil {
		return nil, err
	}
	var dc tracker.DecryptionContext
	if strings.HasSuffix(key, ".age") {
		if dc, err = a.encryptor.Unlock(passphrase); err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}
	return sink.ReadArchived(v, key, dc)
}

// Close finalizes the run record and closes all resources.
func (a *UndeleterApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.store.FinishRun(context.Background(), a.op.ID, a.op.Status, a.clock.Now(), a.op.Stats); err != nil {
			firstErr = fmt.Errorf("finishing run record: %w", err)
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing state store: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
