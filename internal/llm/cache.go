package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/propdash/propdash/internal/metrics"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/propdash/propdash/internal/storage"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL is how long a cached estimate response stays valid.
const DefaultCacheTTL = 30 * 24 * time.Hour

// CachedClient wraps a rehab.ModelClient with SQLite caching. Only responses
// that pass validation are stored, so a cached answer never replays a
// malformed or rejected estimate.
type CachedClient struct {
	inner     rehab.ModelClient
	store     storage.Store
	tolerance *rehab.Tolerance
	ttl       time.Duration
	now       func() time.Time
}

// NewCachedClient creates a cached model client. tolerance must match the
// one the estimation service validates with.
func NewCachedClient(inner rehab.ModelClient, store storage.Store, tolerance *rehab.Tolerance) *CachedClient {
	return &CachedClient{
		inner:     inner,
		store:     store,
		tolerance: tolerance,
		ttl:       DefaultCacheTTL,
		now:       time.Now,
	}
}

// cacheKey creates a SHA256 hash over the model, the prompt and the images.
// Each value is length prefixed to prevent boundary collisions.
func cacheKey(model, prompt string, images []rehab.EncodedImagePart) string {
	h := sha256.New()
	write := func(s string) {
		binary.Write(h, binary.LittleEndian, int64(len(s)))
		h.Write([]byte(s))
	}
	write(model)
	write(prompt)
	for _, img := range images {
		write(img.MIMEType)
		write(img.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Request implements rehab.ModelClient with caching.
func (c *CachedClient) Request(ctx context.Context, images []rehab.EncodedImagePart, prompt string) (string, error) {
	model := modelName(c.inner)
	key := cacheKey(model, prompt, images)

	// Check cache
	if c.store != nil {
		cached, err := c.store.GetEstimateCache(key)
		switch {
		case err != nil:
			metrics.EstimateCacheLookups.WithLabelValues("error").Inc()
			log.Warn().Err(err).Msg("failed to check estimate cache")
		case cached != nil && c.now().Sub(cached.CreatedAt) < c.ttl:
			metrics.EstimateCacheLookups.WithLabelValues("hit").Inc()
			log.Debug().Str("key", key[:16]).Msg("estimate cache hit")
			return cached.Response, nil
		default:
			metrics.EstimateCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	// Call underlying client
	raw, err := c.inner.Request(ctx, images, prompt)
	if err != nil {
		return "", err
	}

	// Cache the result
	if c.store != nil {
		validator := rehab.Validator{ImageCount: len(images), Tolerance: c.tolerance}
		if _, verr := validator.Validate(raw); verr != nil {
			log.Debug().Str("key", key[:16]).Msg("not caching rejected estimate response")
			return raw, nil
		}

		entry := &storage.CachedEstimate{Response: raw, Model: model, CreatedAt: c.now()}
		if err := c.store.SetEstimateCache(key, entry); err != nil {
			log.Warn().Err(err).Msg("failed to cache estimate response")
		} else {
			log.Debug().Str("key", key[:16]).Msg("cached estimate response")
		}
	}

	return raw, nil
}

// modelName returns the model id of clients that expose one.
func modelName(client rehab.ModelClient) string {
	if m, ok := client.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}
