// Package app provides the main application logic
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-autotune/internal/autotune"
	"github.com/mrcode/nightscout-autotune/internal/backup"
	"github.com/mrcode/nightscout-autotune/internal/history"
	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/nightscout"
	"github.com/mrcode/nightscout-autotune/internal/notifications"
	"github.com/mrcode/nightscout-autotune/internal/profilesync"
)

// Version is set at build time
var Version = "dev"

// ErrBackupsDisabled is returned by backup operations when no database is configured
var ErrBackupsDisabled = errors.New("backups are disabled; set backupDb in the settings")

// App struct represents the main application
type App struct {
	settings      *models.Settings
	logger        *zap.Logger
	client        *nightscout.Client
	profiles      *profilesync.Coordinator
	loader        *history.Loader
	tuner         *autotune.Service
	backups       *backup.Store
	notifyManager *notifications.Manager
}

// New creates a new App instance from validated settings
func New(settings *models.Settings, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !settings.IsConfigured() {
		return nil, errors.New("nightscout URL is not configured; set nightscoutUrl or NIGHTSCOUT_URL")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	a := &App{
		settings:      settings,
		logger:        logger,
		notifyManager: notifications.NewManager(settings),
	}
	if err := a.initClient(); err != nil {
		return nil, err
	}

	if settings.BackupDB != "" {
		store, err := backup.Open(settings.BackupDB, logger.Named("backup"))
		if err != nil {
			return nil, err
		}
		a.backups = store
	}

	var archive profilesync.Archiver
	if a.backups != nil {
		archive = a.backups
	}
	a.profiles = profilesync.NewCoordinator(a.client, archive, logger.Named("profilesync"))
	a.loader = history.NewLoader(a.client, logger.Named("history"))
	a.tuner = autotune.NewService(
		autotune.CommandExecutor{Path: settings.AutotunePath},
		settings.AutotuneTimeout,
		logger.Named("autotune"),
	)
	return a, nil
}

// initClient initializes the Nightscout client with current settings
func (a *App) initClient() error {
	client, err := nightscout.NewClient(
		nightscout.ConfigFromSettings(a.settings),
		nightscout.WithLogger(a.logger.Named("nightscout")),
	)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// Close releases the backup database
func (a *App) Close() error {
	if a.backups != nil {
		return a.backups.Close()
	}
	return nil
}

// Pipeline returns the tuning pipeline
func (a *App) Pipeline() *Pipeline {
	return NewPipeline(a.profiles, a.loader, a.tuner, a.notifyManager, a.logger.Named("pipeline"))
}

// Status returns the Nightscout server status
func (a *App) Status(ctx context.Context) (*models.ServerStatus, error) {
	return a.client.GetStatus(ctx)
}

// Profile returns the named profile, or the default one when name is empty
func (a *App) Profile(ctx context.Context, name string) (models.ProfileStore, string, error) {
	return a.profiles.LoadProfile(ctx, name)
}

// ProfileNames lists the profiles in the Nightscout document
func (a *App) ProfileNames(ctx context.Context) ([]string, string, error) {
	doc, err := a.profiles.Document(ctx)
	if err != nil {
		return nil, "", err
	}
	return doc.ProfileNames(), doc.DefaultProfile, nil
}

// History loads validated history for the last days
func (a *App) History(ctx context.Context, days int) (*models.HistoricalData, error) {
	return a.loader.Load(ctx, days)
}

// Backups lists archived profiles, newest first
func (a *App) Backups(ctx context.Context, profileName string) ([]backup.Snapshot, error) {
	if a.backups == nil {
		return nil, ErrBackupsDisabled
	}
	return a.backups.List(ctx, profileName)
}

// Restore writes an archived profile back to Nightscout under its original
// name. The profile it replaces is archived in turn.
func (a *App) Restore(ctx context.Context, id string) (backup.Snapshot, error) {
	if a.backups == nil {
		return backup.Snapshot{}, ErrBackupsDisabled
	}
	snap, err := a.backups.Get(ctx, id)
	if err != nil {
		return backup.Snapshot{}, err
	}
	if _, err := a.profiles.Sync(ctx, snap.Profile, snap.ProfileName); err != nil {
		return backup.Snapshot{}, fmt.Errorf("restoring snapshot %s: %w", id, err)
	}
	a.logger.Info("restored profile snapshot", zap.String("id", id), zap.String("profile", snap.ProfileName))
	return snap, nil
}
