// Package store is the single source of truth for pastes. One mutex
// guards the whole collection; every operation holds it end to end,
// including the synchronous snapshot write after a mutation.
package store

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"wordbin/metrics"
	"wordbin/pkg/domain"
	"wordbin/svc/codec"
	"wordbin/svc/util"
)

// Snapshotter is the persistence hook invoked after every successful
// mutation, while the store lock is held.
type Snapshotter interface {
	Save(pastes []*domain.Paste) error
}

// FileRemover drops a paste's file payload when its record goes away.
type FileRemover interface {
	Remove(encodedID string) error
}

// PasteCache is an optional look-aside cache keyed by encoded identifier.
// The in-memory collection stays authoritative; cache failures degrade to
// warnings, never to lost pastes.
type PasteCache interface {
	CachePaste(ctx context.Context, encodedID string, p *domain.Paste, ttl time.Duration) error
	GetPaste(ctx context.Context, encodedID string) (*domain.Paste, error)
	Delete(ctx context.Context, encodedID string) error
}

const (
	shortIDAttempts = 5
	wideIDAttempts  = 5
	shortIDMask     = 0xFFFF
)

type Store struct {
	mu     sync.Mutex
	pastes []*domain.Paste
	snap   Snapshotter
	files  FileRemover
	rdb    PasteCache
	cache  *lru.Cache[uint64, *domain.Paste]
	clock  domain.Clock
}

// New builds a store around an already-loaded collection. fileStore and
// pasteCache may be nil when file payloads or the look-aside cache are
// not in play (tests, library use).
func New(initial []*domain.Paste, snap Snapshotter, fileStore FileRemover, pasteCache PasteCache, clock domain.Clock, cacheSize int) (*Store, error) {
	if snap == nil {
		return nil, errors.New("store: snapshotter required")
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[uint64, *domain.Paste](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "store cache")
	}
	pastes := make([]*domain.Paste, len(initial))
	copy(pastes, initial)
	return &Store{
		pastes: pastes,
		snap:   snap,
		files:  fileStore,
		rdb:    pasteCache,
		cache:  cache,
		clock:  clock,
	}, nil
}

// Create assigns a fresh identifier, stamps the creation time, resolves
// the expiration choice, classifies the kind, appends the record and
// persists the collection. A failed persistence write rolls the append
// back, so a returned paste is always durably saved.
func (s *Store) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()
	expiresAt, err := domain.ExpiresAt(params.Expiration, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(ctx, now)

	id, err := s.genIDLocked()
	if err != nil {
		return nil, err
	}
	paste := &domain.Paste{
		ID:        id,
		Content:   params.Content,
		FileName:  params.FileName,
		CreatedAt: now,
		Kind:      domain.ClassifyKind(params.Content, params.FileName),
		ExpiresAt: expiresAt,
	}
	s.pastes = append(s.pastes, paste)
	if err := s.saveLocked(); err != nil {
		s.pastes = s.pastes[:len(s.pastes)-1]
		return nil, err
	}
	s.cache.Add(id, paste)
	s.cacheRemote(ctx, paste, now)
	metrics.PasteCreated.Inc()
	return paste.Clone(), nil
}

// Find sweeps, then returns the first record with a matching id in
// insertion order. Lookups go LRU first, then the look-aside cache,
// then the collection itself.
func (s *Store) Find(ctx context.Context, id uint64) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(ctx, now)

	if p, ok := s.cache.Get(id); ok {
		metrics.CacheHits.Inc()
		metrics.PasteRetrieved.Inc()
		return p.Clone(), nil
	}
	metrics.CacheMisses.Inc()
	if s.rdb != nil {
		p, err := s.rdb.GetPaste(ctx, codec.Encode(id))
		if err != nil {
			util.Warn().Err(err).Str("id", codec.Encode(id)).Msg("look-aside cache read failed")
		} else if p != nil && !p.Expired(now) {
			s.cache.Add(id, p)
			metrics.CacheHits.Inc()
			metrics.PasteRetrieved.Inc()
			return p.Clone(), nil
		}
	}
	for _, p := range s.pastes {
		if p.ID == id {
			s.cache.Add(id, p)
			s.cacheRemote(ctx, p, now)
			metrics.PasteRetrieved.Inc()
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrPasteNotFound
}

// Remove sweeps, then deletes the first record with a matching id along
// with its persisted representation and any file payload. A failed
// persistence write restores the record.
func (s *Store) Remove(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(ctx, s.clock.Now().Unix())

	idx := -1
	for i, p := range s.pastes {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ErrPasteNotFound
	}
	removed := s.pastes[idx]
	s.pastes = append(s.pastes[:idx], s.pastes[idx+1:]...)
	if err := s.saveLocked(); err != nil {
		s.pastes = append(s.pastes[:idx], append([]*domain.Paste{removed}, s.pastes[idx:]...)...)
		return err
	}
	s.cache.Remove(id)
	s.evictRemote(ctx, id)
	s.dropPayload(removed)
	metrics.PasteRemoved.Inc()
	return nil
}

// List sweeps, then returns the surviving records in insertion order,
// most recently created last.
func (s *Store) List(ctx context.Context) ([]*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(ctx, s.clock.Now().Unix())

	out := make([]*domain.Paste, len(s.pastes))
	for i, p := range s.pastes {
		out[i] = p.Clone()
	}
	return out, nil
}

// Sweep runs the expiration sweep on demand and reports how many records
// it evicted. Every other operation already sweeps on entry; this exists
// for the optional periodic sweeper.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(ctx, s.clock.Now().Unix()), nil
}

// Len reports the surviving record count without sweeping.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pastes)
}

// StartSweeper runs the sweep on a fixed interval until ctx is done.
// Purely additive: correctness never depends on it.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		util.Info().Dur("interval", interval).Msg("periodic sweeper started")
		for {
			select {
			case <-ctx.Done():
				util.Info().Msg("periodic sweeper stopped")
				return
			case <-ticker.C:
				if n, err := s.Sweep(ctx); err == nil && n > 0 {
					util.Info().Int("evicted", n).Msg("periodic sweep evicted pastes")
				}
			}
		}
	}()
}

// sweepLocked evicts every record whose deadline has passed. Eviction of
// any record also persists the shrunken collection; a failed write there
// is logged rather than resurrecting already-expired data, since the
// stale snapshot re-sweeps itself on the next load.
func (s *Store) sweepLocked(ctx context.Context, now int64) int {
	survivors := s.pastes[:0]
	var expired []*domain.Paste
	for _, p := range s.pastes {
		if p.Expired(now) {
			expired = append(expired, p)
			continue
		}
		survivors = append(survivors, p)
	}
	if len(expired) == 0 {
		return 0
	}
	s.pastes = survivors
	for _, p := range expired {
		s.cache.Remove(p.ID)
		s.evictRemote(ctx, p.ID)
		s.dropPayload(p)
		metrics.PasteExpired.Inc()
	}
	if err := s.saveLocked(); err != nil {
		util.Warn().Err(err).Int("evicted", len(expired)).Msg("snapshot write after sweep failed")
	}
	return len(expired)
}

func (s *Store) saveLocked() error {
	if err := s.snap.Save(s.pastes); err != nil {
		return errors.Wrapf(domain.ErrSnapshotWrite, "save snapshot: %v", err)
	}
	return nil
}

// cacheRemote writes a paste to the look-aside cache with a TTL that
// matches its deadline. Never-expiring pastes get no TTL and live until
// removal evicts them.
func (s *Store) cacheRemote(ctx context.Context, p *domain.Paste, now int64) {
	if s.rdb == nil {
		return
	}
	var ttl time.Duration
	if p.ExpiresAt != 0 {
		ttl = time.Duration(p.ExpiresAt-now) * time.Second
		if ttl <= 0 {
			return
		}
	}
	if err := s.rdb.CachePaste(ctx, codec.Encode(p.ID), p.Clone(), ttl); err != nil {
		util.Warn().Err(err).Str("id", codec.Encode(p.ID)).Msg("look-aside cache write failed")
	}
}

func (s *Store) evictRemote(ctx context.Context, id uint64) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Delete(ctx, codec.Encode(id)); err != nil {
		util.Warn().Err(err).Str("id", codec.Encode(id)).Msg("look-aside cache evict failed")
	}
}

func (s *Store) dropPayload(p *domain.Paste) {
	if s.files == nil || !p.HasFile() {
		return
	}
	if err := s.files.Remove(codec.Encode(p.ID)); err != nil {
		util.Warn().Err(err).Str("id", codec.Encode(p.ID)).Msg("failed to remove file payload")
	}
}

// genIDLocked draws a random identifier that is not already taken. The
// first draws stay in the 16-bit range so identifiers encode to three
// words or fewer; once that range looks crowded it widens to the full
// 64 bits before giving up.
func (s *Store) genIDLocked() (uint64, error) {
	for attempt := 0; attempt < shortIDAttempts+wideIDAttempts; attempt++ {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, errors.Wrap(err, "rand fail")
		}
		id := binary.BigEndian.Uint64(b[:])
		if attempt < shortIDAttempts {
			id &= shortIDMask
		}
		if !s.existsLocked(id) {
			return id, nil
		}
	}
	return 0, domain.ErrIDGeneration
}

func (s *Store) existsLocked(id uint64) bool {
	for _, p := range s.pastes {
		if p.ID == id {
			return true
		}
	}
	return false
}
