package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Source loads a catalog from configuration.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// Watcher is implemented by sources that can push catalog changes.
type Watcher interface {
	Watch(onChange func(*Catalog, error))
}

type staticSource struct {
	doc Document
}

// NewStaticSource serves doc on every Load.
func NewStaticSource(doc Document) Source {
	return &staticSource{doc: doc}
}

func (s *staticSource) Load(context.Context) (*Catalog, error) {
	return New(s.doc)
}

// FileSource reads a yaml or json catalog file through viper.
type FileSource struct {
	path string

	mu sync.Mutex
	v  *viper.Viper
}

func NewFileSource(path string) *FileSource {
	v := viper.New()
	v.SetConfigFile(path)
	return &FileSource{path: path, v: v}
}

func (s *FileSource) Load(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", s.path, err)
	}
	return s.decode()
}

func (s *FileSource) decode() (*Catalog, error) {
	var doc Document
	if err := s.v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", s.path, err)
	}
	return New(doc)
}

// Watch re-decodes the file whenever it changes on disk.
func (s *FileSource) Watch(onChange func(*Catalog, error)) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		zap.L().Info("catalog file changed", zap.String("path", e.Name), zap.String("op", e.Op.String()))

		s.mu.Lock()
		c, err := s.decode()
		s.mu.Unlock()
		onChange(c, err)
	})
	s.v.WatchConfig()
}
