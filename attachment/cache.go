package attachment

import (
	"atme/contract"
	"context"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
)

// CachedStore serves downloads from memory once fetched. Paths are never
// rewritten, so an entry stays valid until evicted or cleared.
type CachedStore struct {
	next  contract.IAttachmentStore
	cache *ristretto.Cache[string, []byte]
	log   *slog.Logger
}

func NewCachedStore(next contract.IAttachmentStore, maxBytes int64, log *slog.Logger) (*CachedStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(10*maxBytes/1024, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	log.Debug("Attachment cache ready", "max", humanize.Bytes(uint64(maxBytes)))
	return &CachedStore{next: next, cache: cache, log: log}, nil
}

func (s *CachedStore) Put(ctx context.Context, path string, data []byte) error {
	if err := s.next.Put(ctx, path, data); err != nil {
		return err
	}
	s.cache.Set(path, data, int64(len(data)))
	return nil
}

func (s *CachedStore) Get(ctx context.Context, path string) ([]byte, error) {
	if data, ok := s.cache.Get(path); ok {
		return data, nil
	}
	data, err := s.next.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	s.cache.Set(path, data, int64(len(data)))
	return data, nil
}

// Clear drops every cached payload, used on sign out.
func (s *CachedStore) Clear() {
	s.cache.Clear()
}

func (s *CachedStore) Wait() {
	s.cache.Wait()
}

func (s *CachedStore) Close() {
	s.cache.Close()
}
