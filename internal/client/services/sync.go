package services

import (
	"context"

	"github.com/dmitrijs2005/estisync/internal/client/assets"
	"github.com/dmitrijs2005/estisync/internal/client/engine"
)

// SyncService exposes the sync trigger points to the UI layer.
//
// Contract:
//   - RunSyncCycle: run one cycle now and wait for it.
//   - RequestSync: ask the scheduler for a cycle and return immediately.
//   - Bootstrap: replace local data with the remote rows of a user.
//   - ClearLocalData: wipe everything on sign-out.
//   - SyncPhotos: user-triggered photo retry; errors are surfaced.
//   - PendingCount: number of changes still waiting to be pushed.
type SyncService interface {
	RunSyncCycle(ctx context.Context) (*engine.Report, error)
	RequestSync()
	Bootstrap(ctx context.Context, userID string) (*engine.Report, error)
	ClearLocalData(ctx context.Context) error
	SyncPhotos(ctx context.Context) (assets.Stats, error)
	PendingCount(ctx context.Context) (int, error)
}

type syncService struct {
	engine  *engine.Engine
	trigger Trigger
}

// NewSyncService binds a SyncService to e. trigger may be nil, in which
// case RequestSync does nothing.
func NewSyncService(e *engine.Engine, trigger Trigger) SyncService {
	return &syncService{engine: e, trigger: trigger}
}

func (s *syncService) RunSyncCycle(ctx context.Context) (*engine.Report, error) {
	return s.engine.RunCycle(ctx)
}

func (s *syncService) RequestSync() {
	if s.trigger != nil {
		s.trigger.Trigger()
	}
}

func (s *syncService) Bootstrap(ctx context.Context, userID string) (*engine.Report, error) {
	return s.engine.Bootstrap(ctx, userID)
}

func (s *syncService) ClearLocalData(ctx context.Context) error {
	return s.engine.ClearLocalData(ctx)
}

func (s *syncService) SyncPhotos(ctx context.Context) (assets.Stats, error) {
	return s.engine.SyncPhotos(ctx)
}

func (s *syncService) PendingCount(ctx context.Context) (int, error) {
	return s.engine.QueueDepth(ctx)
}
