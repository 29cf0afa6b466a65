// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/juju/environschema.v1"

	"github.com/juju/mubsub/transport"
)

// Attribute names recognised by ParseConfig.
const (
	ModeKey                 = "mode"
	SizeKey                 = "size"
	MaxKey                  = "max"
	BoundedRetryIntervalKey = "bounded-retry-interval"
	PollIntervalKey         = "poll-interval"
	PollRetentionSecondsKey = "poll-retention-seconds"
	RecreateOnBreakKey      = "recreate-on-break"
	UnsupportedErrorsKey    = "unsupported-errors"
)

const (
	// DefaultSize is the capacity in bytes of a new bounded collection.
	DefaultSize = 5 * 1024 * 1024

	defaultBoundedRetryMillis = 200
	defaultPollMillis         = 1000
)

var configSchema = environschema.Fields{
	ModeKey: {
		Description: "The transport: auto, bounded or polling.",
		Type:        environschema.Tstring,
	},
	SizeKey: {
		Description: "The size in bytes of a new bounded collection.",
		Type:        environschema.Tint,
	},
	MaxKey: {
		Description: "The maximum number of envelopes in a new bounded collection, 0 for no limit.",
		Type:        environschema.Tint,
	},
	BoundedRetryIntervalKey: {
		Description: "Milliseconds a tailing cursor waits for data before trying again.",
		Type:        environschema.Tint,
	},
	PollIntervalKey: {
		Description: "Milliseconds between polls of a plain collection.",
		Type:        environschema.Tint,
	},
	PollRetentionSecondsKey: {
		Description: "Seconds polled envelopes are kept for, 0 to keep them forever.",
		Type:        environschema.Tint,
	},
	RecreateOnBreakKey: {
		Description: "Whether to restart the bounded transport after its cursor breaks.",
		Type:        environschema.Tbool,
	},
	UnsupportedErrorsKey: {
		Description: "Extra error phrases that mean bounded collections are unavailable.",
		Type:        environschema.Tlist,
	},
}

var configDefaults = schema.Defaults{
	ModeKey:                 string(transport.ModeAuto),
	SizeKey:                 DefaultSize,
	MaxKey:                  0,
	BoundedRetryIntervalKey: defaultBoundedRetryMillis,
	PollIntervalKey:         defaultPollMillis,
	PollRetentionSecondsKey: 0,
	RecreateOnBreakKey:      true,
	UnsupportedErrorsKey:    schema.Omit,
}

var configFields = func() schema.Fields {
	fs, _, err := configSchema.ValidationSchema()
	if err != nil {
		panic(err)
	}
	return fs
}()

// Config is the immutable configuration of a channel.
type Config struct {
	// Name names the channel and its collection.
	Name string

	Mode transport.Mode

	// Size and Max bound a newly created bounded collection.
	Size int64
	Max  int64

	BoundedRetryInterval time.Duration
	PollInterval         time.Duration

	// RetentionSeconds expires polled envelopes when positive.
	RetentionSeconds int

	RecreateOnBreak bool

	// Capabilities classifies bounded creation failures in auto mode.
	Capabilities transport.CapabilityTable
}

// DefaultConfig returns the configuration used for a channel when no
// attributes are given.
func DefaultConfig(name string) Config {
	return Config{
		Name:                 name,
		Mode:                 transport.ModeAuto,
		Size:                 DefaultSize,
		BoundedRetryInterval: defaultBoundedRetryMillis * time.Millisecond,
		PollInterval:         defaultPollMillis * time.Millisecond,
		RecreateOnBreak:      true,
		Capabilities:         transport.DefaultCapabilityTable,
	}
}

// ParseConfig coerces attrs into the Config of the named channel,
// filling in defaults. An unrecognised mode is treated as auto, and
// non-positive intervals take their defaults.
func ParseConfig(name string, attrs map[string]interface{}) (Config, error) {
	attrs = withStringMode(name, attrs)
	coerced, err := schema.FieldMap(configFields, configDefaults).Coerce(attrs, nil)
	if err != nil {
		return Config{}, errors.Annotatef(err, "channel %q config", name)
	}
	valid := coerced.(map[string]interface{})

	cfg := DefaultConfig(name)
	modeAttr, _ := valid[ModeKey].(string)
	mode, ok := transport.ParseMode(modeAttr)
	if !ok {
		logger.Warningf("channel %q: unknown mode %q, using %s", name, modeAttr, mode)
	}
	cfg.Mode = mode
	cfg.Size = intAttr(valid[SizeKey])
	cfg.Max = intAttr(valid[MaxKey])
	if v := intAttr(valid[BoundedRetryIntervalKey]); v > 0 {
		cfg.BoundedRetryInterval = time.Duration(v) * time.Millisecond
	}
	if v := intAttr(valid[PollIntervalKey]); v > 0 {
		cfg.PollInterval = time.Duration(v) * time.Millisecond
	}
	cfg.RetentionSeconds = int(intAttr(valid[PollRetentionSecondsKey]))
	cfg.RecreateOnBreak, _ = valid[RecreateOnBreakKey].(bool)

	if phrases, ok := valid[UnsupportedErrorsKey].([]interface{}); ok {
		var rules []transport.CapabilityRule
		for _, phrase := range phrases {
			p := strings.TrimSpace(fmt.Sprint(phrase))
			if p == "" {
				continue
			}
			rules = append(rules, transport.CapabilityRule{Keywords: []string{p}})
		}
		cfg.Capabilities = cfg.Capabilities.With(rules...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// withStringMode returns a copy of attrs in which a mode that is not a
// string is dropped, so that it takes the default like any other
// unrecognised mode.
func withStringMode(name string, attrs map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		result[k] = v
	}
	if v, ok := result[ModeKey]; ok {
		if _, isString := v.(string); !isString {
			logger.Warningf("channel %q: unknown mode %v, using %s", name, v, transport.ModeAuto)
			delete(result, ModeKey)
		}
	}
	return result
}

func intAttr(v interface{}) int64 {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Validate ensures the config is usable.
func (cfg Config) Validate() error {
	if cfg.Name == "" {
		return errors.NotValidf("empty channel name")
	}
	if strings.ContainsAny(cfg.Name, "$\x00") {
		return errors.NotValidf("channel name %q", cfg.Name)
	}
	if _, ok := transport.ParseMode(string(cfg.Mode)); !ok {
		return errors.NotValidf("mode %q", cfg.Mode)
	}
	if cfg.Mode != transport.ModePolling && cfg.Size <= 0 {
		return errors.NotValidf("size %d", cfg.Size)
	}
	if cfg.Max < 0 {
		return errors.NotValidf("max %d", cfg.Max)
	}
	if cfg.BoundedRetryInterval <= 0 {
		return errors.NotValidf("bounded retry interval %v", cfg.BoundedRetryInterval)
	}
	if cfg.PollInterval <= 0 {
		return errors.NotValidf("poll interval %v", cfg.PollInterval)
	}
	return nil
}

// Attrs returns the config as attributes accepted by ParseConfig.
func (cfg Config) Attrs() map[string]interface{} {
	return map[string]interface{}{
		ModeKey:                 string(cfg.Mode),
		SizeKey:                 cfg.Size,
		MaxKey:                  cfg.Max,
		BoundedRetryIntervalKey: int64(cfg.BoundedRetryInterval / time.Millisecond),
		PollIntervalKey:         int64(cfg.PollInterval / time.Millisecond),
		PollRetentionSecondsKey: cfg.RetentionSeconds,
		RecreateOnBreakKey:      cfg.RecreateOnBreak,
	}
}
