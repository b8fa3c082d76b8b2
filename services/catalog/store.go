package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"met-loyalty/pkg/config"
)

var Module = fx.Module("catalog",
	fx.Provide(NewSource, NewStore),
)

type SourceParams struct {
	fx.In
	Config *config.Config
	DB     *gorm.DB `optional:"true"`
}

// NewSource selects the catalog source from LOYALTY.CATALOG_SOURCE.
func NewSource(p SourceParams) (Source, error) {
	switch p.Config.Loyalty.CatalogSource {
	case "file":
		if p.Config.Loyalty.CatalogPath == "" {
			return nil, errors.New("catalog source file requires LOYALTY.CATALOG_PATH")
		}
		return NewFileSource(p.Config.Loyalty.CatalogPath), nil
	case "database":
		if p.DB == nil {
			return nil, errors.New("catalog source database requires a database connection")
		}
		if err := p.DB.AutoMigrate(&CatalogRecord{}); err != nil {
			return nil, fmt.Errorf("migrate catalog table: %w", err)
		}
		return NewGormSource(p.DB, DefaultDocument()), nil
	case "default", "":
		return NewStaticSource(DefaultDocument()), nil
	default:
		return nil, fmt.Errorf("unknown catalog source %q", p.Config.Loyalty.CatalogSource)
	}
}

// Store holds the active catalog. Readers get an immutable snapshot; reloads
// swap it atomically and invalid catalogs are never swapped in.
type Store struct {
	current atomic.Pointer[Catalog]
	source  Source
}

func NewStore(lc fx.Lifecycle, source Source) (*Store, error) {
	s, err := Load(context.Background(), source)
	if err != nil {
		return nil, err
	}

	if w, ok := source.(Watcher); ok {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				w.Watch(s.swap)
				return nil
			},
		})
	}
	return s, nil
}

// Load builds a Store from source.
func Load(ctx context.Context, source Source) (*Store, error) {
	c, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	s := &Store{source: source}
	s.current.Store(c)
	return s, nil
}

// NewFixedStore wraps an already built catalog.
func NewFixedStore(c *Catalog) *Store {
	s := &Store{source: NewStaticSource(c.Document())}
	s.current.Store(c)
	return s
}

func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Reload re-reads the source and swaps the catalog on success.
func (s *Store) Reload(ctx context.Context) error {
	c, err := s.source.Load(ctx)
	if err != nil {
		return err
	}
	s.current.Store(c)
	return nil
}

func (s *Store) swap(c *Catalog, err error) {
	if err != nil {
		zap.L().Error("catalog reload rejected, keeping previous catalog", zap.Error(err))
		return
	}
	s.current.Store(c)
	zap.L().Info("catalog reloaded", zap.Int("tiers", len(c.tiers)), zap.Int("rewards", len(c.rewards)))
}
