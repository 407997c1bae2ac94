package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"attendance/internal/attendance"
	"attendance/internal/capture"
	"attendance/internal/config"
	"attendance/internal/logger"
	"attendance/internal/repository/sqlstore"
	"attendance/internal/route"
	"attendance/internal/service"
	"attendance/internal/service/storage"
	"attendance/internal/service/vision"
	"attendance/internal/service/websocket"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config   *config.Config
	logger   *logger.Logger
	db       *sqlstore.DB
	detector *vision.CascadeDetector
	buffer   *storage.SnapshotBuffer
	hub      *websocket.HubService
	manager  *service.Manager
	server   *http.Server
}

// NewApp loads configuration and builds every service. The caller must
// call Close when done.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogDirectory)
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg, logger: log}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config

	db, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	a.db = db
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	detector, err := vision.NewCascadeDetector(cfg.CascadePath)
	if err != nil {
		return err
	}
	a.detector = detector

	// A missing model is not fatal: it can be trained later and loaded via
	// /api/model/reload. Flows are refused until then.
	slot := capture.NewRecognizerSlot(nil)
	loadRecognizer := vision.RecognizerLoader(cfg.ModelPath, cfg.LabelMapPath)
	if r, err := loadRecognizer(); err != nil {
		a.logger.Warning("Recognition model not loaded: %v", err)
	} else {
		slot.Swap(r)
	}

	a.buffer = storage.NewSnapshotBuffer(cfg.SnapshotDirectory, cfg.SnapshotBufferLimit, a.logger)
	a.hub = websocket.NewHubService(a.logger)

	attendanceRepo := sqlstore.NewAttendanceRepository(db)

	a.manager = service.NewManager(service.OptionsFromConfig(cfg), service.Deps{
		Opener:         vision.Opener(cfg.CameraDevice, a.logger),
		Detector:       detector,
		Recognizers:    slot,
		LoadRecognizer: loadRecognizer,
		Previewer:      vision.JPEGPreviewer{},
		Recorder:       attendance.NewRecorder(attendanceRepo, cfg.Location),
		Evidence:       a.buffer,
		Hub:            a.hub,
		Logger:         a.logger,
	})

	router := route.SetupRoutes(route.Deps{
		Password:   cfg.Password,
		LogDir:     cfg.LogDirectory,
		Categories: cfg.Categories,
		Flows:      a.manager,
		Attendance: attendanceRepo,
		Viewers:    a.hub,
		DB:         db,
		Logger:     a.logger,
	})

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Run serves HTTP and runs the background services until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.buffer.Run(ctx, time.Duration(a.config.SnapshotFlushInterval)*time.Second)
	})
	g.Go(func() error {
		return a.hub.Run(ctx)
	})
	g.Go(func() error {
		a.logger.Info("Attendance server listening on %s (database: %s, camera: %s)",
			a.server.Addr, a.db.Driver(), a.config.CameraDevice)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.manager.Shutdown(shutdownCtx); err != nil {
			a.logger.Warning("Failed to stop scanning flow: %v", err)
		}
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the database, the detector and the log files.
func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
