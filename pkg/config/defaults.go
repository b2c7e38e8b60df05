package config

import (
	"time"

	"github.com/Sumatoshi-tech/duvet/pkg/linediff"
)

// Default option values.
const (
	DefaultEraseBeforeRun     = false
	DefaultSkipUnaffected     = false
	DefaultSortByImpact       = false
	DefaultIncludeTestModules = false

	DefaultDiffFallback     = string(linediff.FallbackMyers)
	DefaultDiffMaxRecursion = linediff.DefaultMaxRecursion
	DefaultDiffTimeout      = linediff.DefaultTimeout

	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultShutdownTimeout = 5 * time.Second
)

// FileName is the configuration file looked up in the working directory.
const FileName = ".duvet.yaml"

// EnvPrefix prefixes environment overrides, e.g. DUVET_SKIP_UNAFFECTED.
const EnvPrefix = "DUVET"
