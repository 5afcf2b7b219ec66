// Package profilesync reads named profiles out of the Nightscout profile
// document and writes tuned profiles back into it.
package profilesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-autotune/internal/backup"
	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/nightscout"
)

var (
	// ErrProfileNameUnresolved means no name was given and the document has no
	// usable default
	ErrProfileNameUnresolved = errors.New("no profile name given and the document default does not resolve")
	// ErrProfileNotFound is matched by every *NotFoundError
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNoProfiles is returned when Nightscout holds no profile document at all
	ErrNoProfiles = nightscout.ErrNoProfiles
)

// NotFoundError names the missing profile and the ones that do exist
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("profile %q not found; available profiles: %s", e.Name, strings.Join(e.Available, ", "))
}

// Is lets callers match with errors.Is(err, ErrProfileNotFound)
func (e *NotFoundError) Is(target error) bool {
	return target == ErrProfileNotFound
}

// DocumentStore is the part of the Nightscout client the coordinator needs
type DocumentStore interface {
	FetchProfileDocument(ctx context.Context) (json.RawMessage, error)
	UpdateProfileDocument(ctx context.Context, doc json.RawMessage) (json.RawMessage, error)
}

// Archiver keeps a copy of a profile before it is overwritten
type Archiver interface {
	Save(ctx context.Context, name string, profile models.ProfileStore) (backup.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Coordinator resolves profile names and persists tuned profiles
type Coordinator struct {
	store   DocumentStore
	archive Archiver
	logger  *zap.Logger
	now     func() time.Time
}

// NewCoordinator creates a Coordinator. archive may be nil to skip backups.
func NewCoordinator(store DocumentStore, archive Archiver, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		archive: archive,
		logger:  logger,
		now:     time.Now,
	}
}

// Document fetches and validates the current profile document
func (c *Coordinator) Document(ctx context.Context) (models.ProfileDocument, error) {
	raw, err := c.store.FetchProfileDocument(ctx)
	if err != nil {
		return models.ProfileDocument{}, err
	}
	return models.DecodeProfileDocument(raw)
}

// LoadProfile returns the named profile, or the document default when name
// is empty, along with the name it resolved to.
func (c *Coordinator) LoadProfile(ctx context.Context, name string) (models.ProfileStore, string, error) {
	doc, err := c.Document(ctx)
	if err != nil {
		return models.ProfileStore{}, "", err
	}
	resolved, err := resolveName(doc, name)
	if err != nil {
		return models.ProfileStore{}, "", err
	}
	profile, err := lookup(doc, resolved)
	if err != nil {
		return models.ProfileStore{}, resolved, err
	}
	if err := models.ValidateProfile(profile); err != nil {
		return models.ProfileStore{}, resolved, fmt.Errorf("profile %q: %w", resolved, err)
	}
	c.logger.Debug("loaded profile", zap.String("profile", resolved))
	return profile, resolved, nil
}

// Sync writes profile into the document under name, or under the document
// default when name is empty, and returns the name it wrote.
//
// The name is resolved before anything is written. The profile must
// validate, which rules out an empty basal schedule. The replaced entry is
// archived before the write and the snapshot is dropped again when the write
// fails. Transport errors are returned unchanged.
func (c *Coordinator) Sync(ctx context.Context, profile models.ProfileStore, name string) (string, error) {
	doc, err := c.Document(ctx)
	if err != nil {
		return "", err
	}
	resolved, err := resolveName(doc, name)
	if err != nil {
		return "", err
	}
	logger := c.logger.With(zap.String("profile", resolved))

	if err := models.ValidateProfile(profile); err != nil {
		logger.Error("refusing to sync invalid profile", zap.Error(err))
		return resolved, err
	}

	updated := doc.WithProfile(resolved, profile)
	updated.Mills = c.now().UnixMilli()

	body, err := json.Marshal(updated)
	if err != nil {
		return resolved, fmt.Errorf("encoding profile document: %w", err)
	}

	var snapshotID string
	if previous, ok := doc.Store[resolved]; ok && c.archive != nil {
		snap, err := c.archive.Save(ctx, resolved, previous)
		if err != nil {
			return resolved, fmt.Errorf("archiving previous profile: %w", err)
		}
		snapshotID = snap.ID
		logger.Info("archived previous profile", zap.String("snapshot", snap.ID))
	}

	if _, err := c.store.UpdateProfileDocument(ctx, body); err != nil {
		logger.Error("profile sync failed", zap.Error(err))
		c.dropSnapshot(logger, snapshotID)
		return resolved, err
	}

	logger.Info("profile synced")
	return resolved, nil
}

// dropSnapshot removes the archive entry of a write that never happened
func (c *Coordinator) dropSnapshot(logger *zap.Logger, id string) {
	if id == "" {
		return
	}
	// ctx may be the reason the write failed
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.archive.Delete(ctx, id); err != nil {
		logger.Warn("could not remove snapshot of failed write", zap.String("snapshot", id), zap.Error(err))
	}
}

func resolveName(doc models.ProfileDocument, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if doc.DefaultProfile == "" {
		return "", ErrProfileNameUnresolved
	}
	// a default that names no stored profile does not resolve
	if _, ok := doc.Store[doc.DefaultProfile]; !ok {
		return "", fmt.Errorf("%w: %w", ErrProfileNameUnresolved,
			&NotFoundError{Name: doc.DefaultProfile, Available: doc.ProfileNames()})
	}
	return doc.DefaultProfile, nil
}

func lookup(doc models.ProfileDocument, name string) (models.ProfileStore, error) {
	profile, ok := doc.Store[name]
	if !ok {
		return models.ProfileStore{}, &NotFoundError{Name: name, Available: doc.ProfileNames()}
	}
	return profile.Clone(), nil
}
