// Package config centralizes the overlay's shared tunables behind a
// single Config value with functional options.
package config

import "time"

// Config holds the constants shared by the routing table, lookup
// engine, and maintenance scheduler.
type Config struct {
	// K is the bucket width / replication factor.
	K int
	// Alpha is the lookup parallelism.
	Alpha int
	// Expire is the age after original publication at which a replica
	// (one this node does not own) may be dropped.
	Expire time.Duration
	// Replicate is the inter-replication interval for owned and
	// non-owned values alike.
	Replicate time.Duration
	// Refresh is the bucket-staleness threshold.
	Refresh time.Duration
}

// Default mirrors the conventional Kademlia constants.
var Default = Config{
	K:         20,
	Alpha:     3,
	Expire:    24 * time.Hour,
	Replicate: time.Hour,
	Refresh:   time.Hour,
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithK overrides the bucket width.
func WithK(k int) Option {
	return func(c *Config) { c.K = k }
}

// WithAlpha overrides the lookup parallelism.
func WithAlpha(alpha int) Option {
	return func(c *Config) { c.Alpha = alpha }
}

// WithExpire overrides the replica expiry threshold.
func WithExpire(d time.Duration) Option {
	return func(c *Config) { c.Expire = d }
}

// WithReplicate overrides the replication cadence.
func WithReplicate(d time.Duration) Option {
	return func(c *Config) { c.Replicate = d }
}

// WithRefresh overrides the bucket-staleness threshold.
func WithRefresh(d time.Duration) Option {
	return func(c *Config) { c.Refresh = d }
}

// New builds a Config starting from Default with opts applied in order.
func New(opts ...Option) Config {
	c := Default
	for _, o := range opts {
		o(&c)
	}
	return c
}
