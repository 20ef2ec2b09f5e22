// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package channel

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// defaults mirror spec.md §6.1.
const (
	DefaultOutboundDivisor = 10
	DefaultExportConcurrency = 1
	DefaultMaxRetries        = 3
	DefaultRetryInterval     = time.Second
	DefaultMaxRetryInterval  = 2 * time.Minute
	DefaultExponentialBase   = 2
)

// BackoffFunc computes the delay before the given retry attempt
// (0-based: 0 is the delay before the first retry, i.e. the second
// overall attempt).
type BackoffFunc func(attempt int) time.Duration

// Options configures a Channel, enumerating every field of spec.md
// §6.1. It is a fluent, chain-settable struct, matching the teacher's
// write.Options contract (SetBatchSize, SetRetryInterval, ...).
type Options struct {
	maxInFlight           int
	batchSize             int
	lingerDuration        time.Duration
	outboundBufferMaxSize int
	exportConcurrency     int
	maxRetries            int
	retryInterval         time.Duration
	maxRetryInterval      time.Duration
	exponentialBase       float64
	backoffFor            BackoffFunc
	disableDiagnostics    bool
	serializerContext     interface{}
}

// DefaultOptions returns Options with every spec.md §6.1 default filled
// in except the two fields spec.md marks "required" (MaxInFlight and
// BatchSize), which must be set explicitly.
func DefaultOptions() *Options {
	o := &Options{
		exportConcurrency: DefaultExportConcurrency,
		maxRetries:        DefaultMaxRetries,
		retryInterval:     DefaultRetryInterval,
		maxRetryInterval:  DefaultMaxRetryInterval,
		exponentialBase:   DefaultExponentialBase,
	}
	return o
}

// SetMaxInFlight sets the inbound queue capacity (required).
func (o *Options) SetMaxInFlight(n int) *Options { o.maxInFlight = n; return o }

// MaxInFlight returns the inbound queue capacity.
func (o *Options) MaxInFlight() int { return o.maxInFlight }

// SetBatchSize sets the maximum events per batch (required).
func (o *Options) SetBatchSize(n int) *Options { o.batchSize = n; return o }

// BatchSize returns the maximum events per batch.
func (o *Options) BatchSize() int { return o.batchSize }

// SetLingerDuration sets the max time to wait before emitting a partial
// batch.
func (o *Options) SetLingerDuration(d time.Duration) *Options { o.lingerDuration = d; return o }

// LingerDuration returns the configured linger duration.
func (o *Options) LingerDuration() time.Duration { return o.lingerDuration }

// SetOutboundBufferMaxSize sets the capacity of the queue feeding
// workers. If unset, resolveDefaults derives MaxInFlight/10.
func (o *Options) SetOutboundBufferMaxSize(n int) *Options {
	o.outboundBufferMaxSize = n
	return o
}

// OutboundBufferMaxSize returns the outbound queue capacity.
func (o *Options) OutboundBufferMaxSize() int { return o.outboundBufferMaxSize }

// SetExportConcurrency sets the fixed worker count.
func (o *Options) SetExportConcurrency(n int) *Options { o.exportConcurrency = n; return o }

// ExportConcurrency returns the fixed worker count.
func (o *Options) ExportConcurrency() int { return o.exportConcurrency }

// SetMaxRetries sets the additional attempts beyond the first.
func (o *Options) SetMaxRetries(n int) *Options { o.maxRetries = n; return o }

// MaxRetries returns the additional attempts beyond the first.
func (o *Options) MaxRetries() int { return o.maxRetries }

// SetRetryInterval sets the base delay used by the default BackoffFor.
func (o *Options) SetRetryInterval(d time.Duration) *Options { o.retryInterval = d; return o }

// RetryInterval returns the base delay used by the default BackoffFor.
func (o *Options) RetryInterval() time.Duration { return o.retryInterval }

// SetMaxRetryInterval sets the upper bound for the default BackoffFor.
func (o *Options) SetMaxRetryInterval(d time.Duration) *Options { o.maxRetryInterval = d; return o }

// MaxRetryInterval returns the upper bound for the default BackoffFor.
func (o *Options) MaxRetryInterval() time.Duration { return o.maxRetryInterval }

// SetExponentialBase sets the exponent base for the default BackoffFor.
func (o *Options) SetExponentialBase(b float64) *Options { o.exponentialBase = b; return o }

// ExponentialBase returns the exponent base for the default BackoffFor.
func (o *Options) ExponentialBase() float64 { return o.exponentialBase }

// SetBackoffFor overrides the attempt->delay function entirely.
func (o *Options) SetBackoffFor(f BackoffFunc) *Options { o.backoffFor = f; return o }

// SetDisableDiagnostics skips observed-concurrency tracking and string
// rendering.
func (o *Options) SetDisableDiagnostics(b bool) *Options { o.disableDiagnostics = b; return o }

// DisableDiagnostics reports whether diagnostics are disabled.
func (o *Options) DisableDiagnostics() bool { return o.disableDiagnostics }

// SetSerializerContext sets the opaque blob passed to the transport
// binding.
func (o *Options) SetSerializerContext(v interface{}) *Options { o.serializerContext = v; return o }

// SerializerContext returns the opaque blob passed to the transport
// binding.
func (o *Options) SerializerContext() interface{} { return o.serializerContext }

// backoff returns the effective BackoffFunc: the override if set,
// otherwise the default exponential-with-jitter function from
// backoff.go.
func (o *Options) backoff() BackoffFunc {
	if o.backoffFor != nil {
		return o.backoffFor
	}
	return defaultBackoffFor(o)
}

// resolveDefaults fills in the defaults that depend on other fields
// (OutboundBufferMaxSize = MaxInFlight/10) and validates the two
// required fields.
func (o *Options) resolveDefaults() error {
	if o.maxInFlight <= 0 {
		return fmt.Errorf("ingestchannel: MaxInFlight is required and must be > 0")
	}
	if o.batchSize <= 0 {
		return fmt.Errorf("ingestchannel: BatchSize is required and must be > 0")
	}
	if o.outboundBufferMaxSize <= 0 {
		o.outboundBufferMaxSize = o.maxInFlight / DefaultOutboundDivisor
		if o.outboundBufferMaxSize <= 0 {
			o.outboundBufferMaxSize = 1
		}
	}
	if o.exportConcurrency <= 0 {
		o.exportConcurrency = DefaultExportConcurrency
	}
	return nil
}

// yamlOptions is the on-disk shape loaded by LoadOptionsYAML, decoupled
// from Options's unexported fields.
type yamlOptions struct {
	MaxInFlight           int           `yaml:"maxInFlight"`
	BatchSize             int           `yaml:"batchSize"`
	LingerDuration        time.Duration `yaml:"lingerDuration"`
	OutboundBufferMaxSize int           `yaml:"outboundBufferMaxSize"`
	ExportConcurrency     int           `yaml:"exportConcurrency"`
	MaxRetries            int           `yaml:"maxRetries"`
	RetryInterval         time.Duration `yaml:"retryInterval"`
	MaxRetryInterval      time.Duration `yaml:"maxRetryInterval"`
	ExponentialBase       float64       `yaml:"exponentialBase"`
	DisableDiagnostics    bool          `yaml:"disableDiagnostics"`
}

// LoadOptionsYAML decodes a YAML-encoded options document, for
// embedders that want to externalize tuning without recompiling. It is
// purely additive: DefaultOptions()+setters remains the primary,
// programmatic path.
func LoadOptionsYAML(r io.Reader) (*Options, error) {
	var y yamlOptions
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&y); err != nil {
		return nil, fmt.Errorf("ingestchannel: decoding options yaml: %w", err)
	}
	o := DefaultOptions().
		SetMaxInFlight(y.MaxInFlight).
		SetBatchSize(y.BatchSize).
		SetLingerDuration(y.LingerDuration).
		SetOutboundBufferMaxSize(y.OutboundBufferMaxSize).
		SetExportConcurrency(y.ExportConcurrency).
		SetMaxRetries(y.MaxRetries).
		SetRetryInterval(y.RetryInterval).
		SetMaxRetryInterval(y.MaxRetryInterval).
		SetDisableDiagnostics(y.DisableDiagnostics)
	if y.ExponentialBase > 0 {
		o.SetExponentialBase(y.ExponentialBase)
	}
	return o, nil
}

// LoadOptionsYAMLFile is a convenience wrapper around LoadOptionsYAML
// for the common case of configuration living in a file on disk.
func LoadOptionsYAMLFile(path string) (*Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestchannel: opening options file: %w", err)
	}
	defer f.Close()
	return LoadOptionsYAML(f)
}
