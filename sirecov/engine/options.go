package engine

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/sirecov/sirecov/cache"
	"github.com/ZanzyTHEbar/sirecov/sirecov/config"
	"github.com/ZanzyTHEbar/sirecov/sirecov/indexing"
)

// ErrNotBuilt is returned by write paths that need the indexes loaded first.
var ErrNotBuilt = errors.New("indexes have not been built")

// Options sizes the structures a Coordinator owns.
type Options struct {
	RangeDegree             int
	HashInitialCapacity     int
	FilterExpectedItems     int
	FilterFalsePositiveRate float64
}

// DefaultOptions mirrors the index.* config defaults.
func DefaultOptions() Options {
	return Options{
		RangeDegree:             indexing.DefaultRangeDegree,
		HashInitialCapacity:     indexing.DefaultHashCapacity,
		FilterExpectedItems:     50000,
		FilterFalsePositiveRate: 0.001,
	}
}

// OptionsFromConfig copies the index section of cfg.
func OptionsFromConfig(cfg config.IndexConfig) Options {
	return Options{
		RangeDegree:             cfg.RangeDegree,
		HashInitialCapacity:     cfg.HashInitialCapacity,
		FilterExpectedItems:     cfg.FilterExpectedItems,
		FilterFalsePositiveRate: cfg.FilterFalsePositiveRate,
	}
}

// NewQueryCache builds the namespaced result cache described by cfg.
func NewQueryCache(cfg config.CacheConfig, logger zerolog.Logger) *cache.QueryCache {
	results := cache.New[any](cfg.Capacity, cache.WithDefaultTTL(cfg.DefaultTTL))
	ttls := cache.TTLs{
		Country: cfg.TTL.Country,
		Date:    cfg.TTL.Date,
		Stats:   cfg.TTL.Stats,
		Range:   cfg.TTL.Range,
	}
	return cache.NewQueryCache(results, ttls, logger)
}
