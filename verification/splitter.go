package verification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SplitConfig is the traffic-allocation shape read from configuration:
// percentage of traffic to the primary vendor, how many consecutive requests
// fill one bucket, and which buckets belong to which vendor.
type SplitConfig struct {
	Percentage        int              `json:"percentage" validate:"min=0,max=100"`
	RequestsPerBucket int              `json:"requests_per_bucket" validate:"min=1"`
	VendorBuckets     map[string][]int `json:"vendor_bucket_map"`
}

// DefaultSplitConfig is the fixed 50% split used when configuration is
// entirely absent: two buckets, one per vendor.
func DefaultSplitConfig() *SplitConfig {
	return &SplitConfig{
		Percentage:        50,
		RequestsPerBucket: 1,
		VendorBuckets: map[string][]int{
			string(PowerCred): {0},
			string(Perfios):   {1},
		},
	}
}

func (c *SplitConfig) totalBuckets() int {
	n := 0
	for _, buckets := range c.VendorBuckets {
		n += len(buckets)
	}
	return n
}

// Counter is the shared rolling counter behind bucket assignment. It is
// weakly consistent on purpose: slight over/under-fill of a bucket under
// concurrency is accepted.
type Counter interface {
	Next(ctx context.Context, key string) (int64, error)
}

// RedisCounter implements Counter on a shared redis INCR with expiry.
type RedisCounter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCounter(client *redis.Client, ttl time.Duration) *RedisCounter {
	return &RedisCounter{client: client, ttl: ttl}
}

func (c *RedisCounter) Next(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		c.client.Expire(ctx, key, c.ttl)
	}
	return n, nil
}

// SplitConfigSource yields the current allocation. A nil config with nil
// error means "not configured"; the splitter falls back to the default.
type SplitConfigSource func(ctx context.Context) (*SplitConfig, error)

// NewRedisSplitConfigSource reads the allocation from a redis key so ops can
// retune traffic without a deploy. Missing key degrades to nil (default).
func NewRedisSplitConfigSource(client *redis.Client, key string) SplitConfigSource {
	return func(ctx context.Context) (*SplitConfig, error) {
		raw, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var cfg SplitConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
}

// StaticSplitConfig wraps a fixed allocation (used when config comes from the
// environment, and in tests).
func StaticSplitConfig(cfg *SplitConfig) SplitConfigSource {
	return func(context.Context) (*SplitConfig, error) { return cfg, nil }
}

// TrafficSplitter assigns an applicant to a vendor. Stickiness wins: an
// applicant that has touched a vendor before keeps routing to whichever
// vendor it has used most. Fresh applicants are spread across the configured
// buckets by the rolling counter.
type TrafficSplitter struct {
	repo       Repository
	counter    Counter
	counterKey string
	source     SplitConfigSource
	primary    Vendor
	secondary  Vendor
	log        *zap.Logger
}

func NewTrafficSplitter(repo Repository, counter Counter, counterKey string, source SplitConfigSource, primary, secondary Vendor, log *zap.Logger) *TrafficSplitter {
	return &TrafficSplitter{
		repo:       repo,
		counter:    counter,
		counterKey: counterKey,
		source:     source,
		primary:    primary,
		secondary:  secondary,
		log:        log,
	}
}

// Pick chooses the vendor for an applicant.
func (s *TrafficSplitter) Pick(ctx context.Context, applicantID string) (Vendor, error) {
	usage, err := s.repo.VendorUsage(ctx, applicantID)
	if err != nil {
		return "", err
	}
	if v, ok := stickyVendor(usage); ok {
		return v, nil
	}

	cfg := s.loadConfig(ctx)

	n, err := s.counter.Next(ctx, s.counterKey)
	if err != nil {
		// The counter is an approximation aid, not a correctness dependency.
		s.log.Warn("traffic counter unavailable, using primary vendor", zap.Error(err))
		return s.primary, nil
	}

	total := cfg.totalBuckets()
	if total == 0 || cfg.RequestsPerBucket <= 0 {
		return s.primary, nil
	}
	slot := int((n - 1) / int64(cfg.RequestsPerBucket) % int64(total))

	for _, v := range Vendors() {
		for _, bucket := range cfg.VendorBuckets[string(v)] {
			if bucket == slot {
				return v, nil
			}
		}
	}

	if s.primary != "" {
		return s.primary, nil
	}
	return s.secondary, nil
}

func (s *TrafficSplitter) loadConfig(ctx context.Context) *SplitConfig {
	if s.source == nil {
		return DefaultSplitConfig()
	}
	cfg, err := s.source(ctx)
	if err != nil {
		s.log.Warn("split config unavailable, using default allocation", zap.Error(err))
		return DefaultSplitConfig()
	}
	if cfg == nil || cfg.totalBuckets() == 0 {
		return DefaultSplitConfig()
	}
	return cfg
}

// stickyVendor returns the mode of the applicant's prior vendor usage.
// Ties break in Vendors() order so the result is deterministic.
func stickyVendor(usage map[Vendor]int) (Vendor, bool) {
	var best Vendor
	max := 0
	for _, v := range Vendors() {
		if usage[v] > max {
			best = v
			max = usage[v]
		}
	}
	return best, max > 0
}
