package commands

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/factgraph/am"
	"github.com/teranos/factgraph/db"
	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/handler"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/manager"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/service"
	"github.com/teranos/factgraph/fact/storage"
	"github.com/teranos/factgraph/fact/trigger"
	"github.com/teranos/factgraph/logger"
)

const dispatcherDrainTimeout = 5 * time.Second

// loadConfig is replaced in tests.
var loadConfig = am.Load

// App is one fully wired fact graph: primary store, caches, search index,
// trigger dispatcher and the service on top.
type App struct {
	Config     *am.Config
	DB         *sql.DB
	Store      *storage.Store
	Facts      *manager.FactManager
	Objects    *manager.ObjectManager
	Sources    *manager.SourceManager
	Index      *index.Store
	Dispatcher *trigger.Dispatcher
	Service    *service.Service
	Reconciler *index.Reconciler

	subject *security.Subject
	log     *zap.SugaredLogger
}

// openApp opens every store named by cfg and ensures the system fact types.
// Close must be called on success.
func openApp(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (_ *App, err error) {
	log = logger.OrNop(log)
	app := &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.DB, err = db.OpenWithMigrations(cfg.Database.Path, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	app.Store = storage.NewStore(app.DB, log)

	handlers := handler.NewFactory()
	opts := manager.Options{
		CacheEnabled: cfg.Cache.Enabled,
		MaxEntries:   cfg.Cache.MaxEntries,
		Handlers:     handlers,
		Logger:       log,
	}
	app.Facts = manager.NewFactManager(app.Store, opts)
	app.Objects = manager.NewObjectManager(app.Store, opts)
	app.Sources = manager.NewSourceManager(app.Store, opts)

	indexCfg := index.InMemoryConfig()
	if !cfg.Index.InMemory {
		indexCfg = index.DefaultConfig(cfg.Index.Path)
		indexCfg.SyncWrites = cfg.Index.SyncWrites
		indexCfg.GCInterval = cfg.Index.GCInterval()
	}
	app.Index, err = index.Open(indexCfg, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open index")
	}

	app.Dispatcher = trigger.NewDispatcher(trigger.Config{
		Workers:            cfg.Trigger.Workers,
		QueueSize:          cfg.Trigger.QueueSize,
		MaxEventsPerSecond: cfg.Trigger.MaxEventsPerSecond,
	}, log, trigger.LoggingSink{Logger: log.Named("trigger")})

	app.Service = service.New(service.Deps{
		Facts:    app.Facts,
		Objects:  app.Objects,
		Sources:  app.Sources,
		Index:    app.Index,
		Handlers: handlers,
		Emitter:  app.Dispatcher,
		Logger:   log,
	}, service.Config{SerializeIdenticalFacts: cfg.Service.SerializeIdenticalFacts})
	if err := app.Service.EnsureSystemTypes(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to ensure system fact types")
	}

	app.Reconciler = index.NewReconciler(app.Facts, app.Index, log)

	app.subject, err = operator(cfg.Security)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// operator builds the subject the CLI acts as.
func operator(cfg am.SecurityConfig) (*security.Subject, error) {
	subjectID, organizationID, err := cfg.Subject()
	if err != nil {
		return nil, errors.Wrap(err, "invalid security configuration")
	}
	fns := make([]security.Function, 0, len(cfg.Functions))
	for _, fn := range cfg.Functions {
		fns = append(fns, security.Function(fn))
	}
	return security.NewSubject(subjectID, organizationID).Grant(organizationID, fns...), nil
}

// Context returns ctx carrying the operator's security context.
func (a *App) Context(ctx context.Context) context.Context {
	return security.NewContext(ctx, security.NewSecurityContext(a.subject, a.Service.AclResolver()))
}

// Close releases everything openApp opened. Queued trigger events get
// dispatcherDrainTimeout to be delivered.
func (a *App) Close() {
	if a.Dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
		if err := a.Dispatcher.Stop(ctx); err != nil {
			a.log.Warnw("Dropped undelivered trigger events", logger.FieldError, err)
		}
		cancel()
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			a.log.Warnw("Failed to close index", logger.FieldError, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Warnw("Failed to close database", logger.FieldError, err)
		}
	}
}

// withApp loads configuration, opens the app, runs fn with the operator
// context and closes the app.
func withApp(ctx context.Context, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	app, err := openApp(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app.Context(ctx), app)
}
