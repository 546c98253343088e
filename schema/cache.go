package schema

import (
	stderrors "errors"
	"log/slog"
)

// Cache holds the validators for one session, keyed by schema path. It is
// populated once at session start and read-only afterwards, so lookups
// from the message handler need no locking. A path that failed to load
// stays in the cache as a remembered failure; per-message handling treats
// it as "schema unavailable" without logging the load error again.
type Cache struct {
	validators map[string]*Validator
	failures   map[string]*LoadError
	logger     *slog.Logger
}

// NewCache returns an empty cache. A nil logger falls back to the default.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		validators: make(map[string]*Validator),
		failures:   make(map[string]*LoadError),
		logger:     logger.With("component", "schema-cache"),
	}
}

// Populate loads every distinct path once, in order. Duplicate and empty
// paths are skipped. Each load failure is logged here, once per path, and
// recorded so Failure can report it later. Returns the number of
// validators loaded and the number of paths that failed.
func (c *Cache) Populate(paths []string) (loaded, failed int) {
	seen := make(map[string]struct{}, len(paths))

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		v, err := Load(path)
		if err != nil {
			var le *LoadError
			if !stderrors.As(err, &le) {
				le = newLoadError(path, LoadCompile, err)
			}
			c.failures[path] = le
			c.logger.Warn("schema unavailable",
				"path", path,
				"reason", le.Reason.String(),
				"error", le.Err)
			continue
		}
		c.validators[path] = v
		c.logger.Debug("schema loaded", "path", path)
	}

	loaded, failed = len(c.validators), len(c.failures)
	c.logger.Info("schema cache populated", "loaded", loaded, "failed", failed)
	return loaded, failed
}

// Lookup returns the validator compiled for path, if loading succeeded.
func (c *Cache) Lookup(path string) (*Validator, bool) {
	v, ok := c.validators[path]
	return v, ok
}

// Failure returns the remembered load error for path, if loading failed.
func (c *Cache) Failure(path string) (*LoadError, bool) {
	le, ok := c.failures[path]
	return le, ok
}

// Len reports how many validators loaded successfully.
func (c *Cache) Len() int {
	return len(c.validators)
}
