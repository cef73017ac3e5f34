package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/cleared-dev/basis/internal/config"
	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/logging"
	"github.com/cleared-dev/basis/internal/model"
	"github.com/cleared-dev/basis/internal/recompute"
	"github.com/cleared-dev/basis/internal/runlog"
	"github.com/cleared-dev/basis/internal/sqlstore"
)

// project is an opened basis project: its config, database and the
// ledger loaded from it.
type project struct {
	root   string
	cfg    *config.Config
	db     *sqlstore.DB
	store  *ledger.Store
	logger *slog.Logger
}

func openProject(ctx context.Context, dir string, logOut io.Writer) (*project, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	cfg, err := config.Load(filepath.Join(root, config.FileName))
	if err != nil {
		return nil, fmt.Errorf("not a basis project (run basis init): %w", err)
	}
	if err := cfg.ApplyEnv(root); err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging.Level, logOut)

	db, err := sqlstore.Open(ctx, cfg.DatabasePath(root), logger)
	if err != nil {
		return nil, err
	}
	store, err := db.LoadAll(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &project{root: root, cfg: cfg, db: db, store: store, logger: logger}, nil
}

func (p *project) Close() error {
	return p.db.Close()
}

func (p *project) save(ctx context.Context, userID int64) error {
	snap, err := p.store.Snapshot(userID)
	if err != nil {
		return err
	}
	return p.db.Save(ctx, snap)
}

func (p *project) service() (*recompute.Service, error) {
	transfers, err := p.cfg.TransferOptions()
	if err != nil {
		return nil, err
	}
	src, err := p.cfg.RateSource()
	if err != nil {
		return nil, err
	}
	locker := p.db.Locker()
	locker.PollInterval = p.cfg.Lock.PollInterval

	return recompute.NewService(recompute.Options{
		Store:     p.store,
		Locker:    locker,
		Rates:     src,
		CostBasis: p.cfg.CostBasisOptions(),
		Transfers: transfers,
		LockTTL:   p.cfg.Lock.TTL,
		Saver:     p.db,
		Recorder:  runlog.Open(p.root),
		Logger:    p.logger,
	}), nil
}

// userIDs returns the selected user, or every user when userID is zero.
func (p *project) userIDs(userID int64) ([]int64, error) {
	if userID != 0 {
		if _, err := p.store.User(userID); err != nil {
			return nil, err
		}
		return []int64{userID}, nil
	}
	var ids []int64
	for _, u := range p.store.Users() {
		ids = append(ids, u.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no users: %w", model.ErrNotFound)
	}
	return ids, nil
}
