package feeds

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage abstracts the subset of state manager functionality required by the
// feed registry.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVKeys(prefix []byte) ([][]byte, error)
}

var feedPrefix = []byte("feeds/")

var (
	ErrFeedNotFound = errors.New("feeds: feed not found")
	ErrFeedExists   = errors.New("feeds: feed already exists")
	ErrNoRound      = errors.New("feeds: no round submitted")
	ErrStaleRound   = errors.New("feeds: round older than latest")
	ErrInvalidFeed  = errors.New("feeds: invalid feed definition")
)

// MaxDecimals bounds feed precision so 10^decimals fits in 64 bits.
const MaxDecimals = 19

// Round is the latest answer of a feed. Answer is signed; consumers decide
// whether non-positive answers are usable.
type Round struct {
	ID        uint64
	Answer    int64
	Decimals  uint8
	UpdatedAt time.Time
}

// Feed describes a price feed and its latest round.
type Feed struct {
	ID          string
	Description string
	Decimals    uint8
	Latest      *Round
}

type storedFeed struct {
	ID          string
	Description string
	Decimals    uint8
	RoundID     uint64
	Magnitude   uint64
	Negative    bool
	UpdatedAt   uint64
}

func (s *storedFeed) toFeed() *Feed {
	feed := &Feed{ID: s.ID, Description: s.Description, Decimals: s.Decimals}
	if s.RoundID == 0 {
		return feed
	}
	answer := int64(s.Magnitude)
	if s.Negative {
		answer = -answer
	}
	feed.Latest = &Round{
		ID:        s.RoundID,
		Answer:    answer,
		Decimals:  s.Decimals,
		UpdatedAt: time.Unix(int64(s.UpdatedAt), 0).UTC(),
	}
	return feed
}

// Registry persists feed definitions and their latest round.
type Registry struct {
	store Storage
}

// NewRegistry constructs a registry bound to the provided storage backend.
func NewRegistry(store Storage) *Registry {
	return &Registry{store: store}
}

func feedKey(id string) []byte {
	return append(append([]byte(nil), feedPrefix...), []byte(id)...)
}

func (r *Registry) load(id string) (*storedFeed, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("feeds: registry not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrFeedNotFound)
	}
	var stored storedFeed
	ok, err := r.store.KVGet(feedKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, id)
	}
	return &stored, nil
}

// CreateFeed registers a feed with no rounds.
func (r *Registry) CreateFeed(id, description string, decimals uint8) (*Feed, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("feeds: registry not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id required", ErrInvalidFeed)
	}
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: decimals %d exceed %d", ErrInvalidFeed, decimals, MaxDecimals)
	}
	ok, err := r.store.KVGet(feedKey(id), nil)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrFeedExists, id)
	}
	stored := &storedFeed{ID: id, Description: strings.TrimSpace(description), Decimals: decimals}
	if err := r.store.KVPut(feedKey(id), stored); err != nil {
		return nil, err
	}
	return stored.toFeed(), nil
}

// SubmitRound records a new latest answer. Rounds must not move backwards in time.
func (r *Registry) SubmitRound(id string, answer int64, at time.Time) (*Round, error) {
	stored, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if at.IsZero() || at.Unix() < 0 {
		return nil, fmt.Errorf("%w: round timestamp required", ErrInvalidFeed)
	}
	ts := uint64(at.Unix())
	if stored.RoundID > 0 && ts < stored.UpdatedAt {
		return nil, fmt.Errorf("%w: %s", ErrStaleRound, stored.ID)
	}
	stored.RoundID++
	stored.UpdatedAt = ts
	if answer < 0 {
		stored.Negative = true
		stored.Magnitude = uint64(-answer)
	} else {
		stored.Negative = false
		stored.Magnitude = uint64(answer)
	}
	if err := r.store.KVPut(feedKey(stored.ID), stored); err != nil {
		return nil, err
	}
	return stored.toFeed().Latest, nil
}

// LatestRound returns the most recent round of the feed.
func (r *Registry) LatestRound(id string) (*Round, error) {
	stored, err := r.load(id)
	if err != nil {
		return nil, err
	}
	feed := stored.toFeed()
	if feed.Latest == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRound, stored.ID)
	}
	return feed.Latest, nil
}

// Feed returns the feed definition including the latest round, if any.
func (r *Registry) Feed(id string) (*Feed, error) {
	stored, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return stored.toFeed(), nil
}

// List returns every registered feed in key order.
func (r *Registry) List() ([]*Feed, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("feeds: registry not initialised")
	}
	keys, err := r.store.KVKeys(feedPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*Feed, 0, len(keys))
	for _, key := range keys {
		var stored storedFeed
		ok, err := r.store.KVGet(key, &stored)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, stored.toFeed())
		}
	}
	return out, nil
}
