// config_keys.go provides key-value access to configuration settings.
//
// Separated from config.go to isolate the key enumeration and string-based
// get/set logic. This separation allows config.go to focus on YAML structure
// and loading, while this file handles the MCP and CLI interface where config
// is accessed by string keys (e.g., "search.max_count").
//
// Design: Pointers are used for optional fields so we can distinguish between
// "not set" (nil) and "explicitly set to zero/false". This enables proper
// defaulting - we only apply defaults when the user hasn't set a value.

package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ValidKeys returns all valid configuration keys.
func ValidKeys() []string {
	return []string{
		"server.base_url", "server.listen",
		"search.default_count", "search.max_count", "search.chain_depth",
		"search.include_hops", "search.type_cap", "search.strict",
		"store.pool_size", "store.update_creates",
		"audit.enabled",
	}
}

// IsValidKey returns true if the key is a valid configuration key.
func IsValidKey(key string) bool {
	return slices.Contains(ValidKeys(), key)
}

// Get returns the value of a configuration key as a string.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "server.base_url":
		return c.BaseURL(), nil
	case "server.listen":
		return c.Listen(), nil
	case "search.default_count":
		return strconv.Itoa(c.DefaultCount()), nil
	case "search.max_count":
		return strconv.Itoa(c.MaxCount()), nil
	case "search.chain_depth":
		return strconv.Itoa(c.ChainDepth()), nil
	case "search.include_hops":
		return strconv.Itoa(c.IncludeHops()), nil
	case "search.type_cap":
		return strconv.Itoa(c.TypeCap()), nil
	case "search.strict":
		return strconv.FormatBool(c.StrictSearch()), nil
	case "store.pool_size":
		return strconv.Itoa(c.PoolSize()), nil
	case "store.update_creates":
		return strconv.FormatBool(c.UpdateCreates()), nil
	case "audit.enabled":
		return strconv.FormatBool(c.AuditEnabled()), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Set sets the value of a configuration key. Integer keys are range-checked
// against the same bounds Validate enforces, so a bad Set never produces a
// config that Load would reject.
func (c *Config) Set(key, value string) error {
	switch key {
	case "server.base_url":
		if value != "" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("%w: server.base_url must start with http:// or https://", ErrInvalidValue)
		}
		c.Server.BaseURL = strings.TrimRight(value, "/")
	case "server.listen":
		c.Server.Listen = value
	case "search.default_count":
		return setBounded(key, value, MinDefaultCount, MaxDefaultCount, &c.Search.DefaultCount)
	case "search.max_count":
		return setBounded(key, value, MinMaxCount, MaxMaxCount, &c.Search.MaxCount)
	case "search.chain_depth":
		return setBounded(key, value, MinChainDepth, MaxChainDepth, &c.Search.ChainDepth)
	case "search.include_hops":
		return setBounded(key, value, MinIncludeHops, MaxIncludeHops, &c.Search.IncludeHops)
	case "search.type_cap":
		return setBounded(key, value, MinTypeCap, MaxTypeCap, &c.Search.TypeCap)
	case "search.strict":
		return setBool(key, value, &c.Search.Strict)
	case "store.pool_size":
		return setBounded(key, value, MinPoolSize, MaxPoolSize, &c.Store.PoolSize)
	case "store.update_creates":
		return setBool(key, value, &c.Store.UpdateCreates)
	case "audit.enabled":
		return setBool(key, value, &c.Audit.Enabled)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

func setBounded(key, value string, min, max int, dst **int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer", ErrInvalidValue, key)
	}
	if n < min || n > max {
		return fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidValue, key, min, max)
	}
	*dst = &n
	return nil
}

func setBool(key, value string, dst **bool) error {
	v := strings.ToLower(value)
	if v != "true" && v != "false" {
		return fmt.Errorf("%w: %s must be true or false", ErrInvalidValue, key)
	}
	b := v == "true"
	*dst = &b
	return nil
}

// All returns all configuration values as a map.
func (c *Config) All() map[string]string {
	out := make(map[string]string, len(ValidKeys()))
	for _, k := range ValidKeys() {
		v, _ := c.Get(k)
		out[k] = v
	}
	return out
}

// IsSet returns true if the key has an explicit value (not just defaults).
func (c *Config) IsSet(key string) bool {
	switch key {
	case "server.base_url":
		return c.Server.BaseURL != ""
	case "server.listen":
		return c.Server.Listen != ""
	case "search.default_count":
		return c.Search.DefaultCount != nil
	case "search.max_count":
		return c.Search.MaxCount != nil
	case "search.chain_depth":
		return c.Search.ChainDepth != nil
	case "search.include_hops":
		return c.Search.IncludeHops != nil
	case "search.type_cap":
		return c.Search.TypeCap != nil
	case "search.strict":
		return c.Search.Strict != nil
	case "store.pool_size":
		return c.Store.PoolSize != nil
	case "store.update_creates":
		return c.Store.UpdateCreates != nil
	case "audit.enabled":
		return c.Audit.Enabled != nil
	default:
		return false
	}
}
