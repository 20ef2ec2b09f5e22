// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package channel

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsFillsDocumentedDefaults(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, DefaultExportConcurrency, o.ExportConcurrency())
	assert.Equal(t, DefaultMaxRetries, o.MaxRetries())
	assert.Equal(t, DefaultRetryInterval, o.RetryInterval())
	assert.Equal(t, DefaultMaxRetryInterval, o.MaxRetryInterval())
	assert.Equal(t, float64(DefaultExponentialBase), o.ExponentialBase())
}

func TestResolveDefaultsRequiresMaxInFlightAndBatchSize(t *testing.T) {
	o := DefaultOptions()
	err := o.resolveDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxInFlight")

	o.SetMaxInFlight(100)
	err = o.resolveDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BatchSize")

	o.SetBatchSize(10)
	require.NoError(t, o.resolveDefaults())
}

func TestResolveDefaultsDerivesOutboundBufferFromMaxInFlight(t *testing.T) {
	o := DefaultOptions().SetMaxInFlight(100).SetBatchSize(10)
	require.NoError(t, o.resolveDefaults())
	assert.Equal(t, 10, o.OutboundBufferMaxSize())
}

func TestResolveDefaultsOutboundBufferFloorsAtOne(t *testing.T) {
	o := DefaultOptions().SetMaxInFlight(5).SetBatchSize(1)
	require.NoError(t, o.resolveDefaults())
	assert.Equal(t, 1, o.OutboundBufferMaxSize())
}

func TestResolveDefaultsPreservesExplicitOutboundBufferMaxSize(t *testing.T) {
	o := DefaultOptions().SetMaxInFlight(100).SetBatchSize(10).SetOutboundBufferMaxSize(42)
	require.NoError(t, o.resolveDefaults())
	assert.Equal(t, 42, o.OutboundBufferMaxSize())
}

func TestFluentSettersChain(t *testing.T) {
	o := DefaultOptions().
		SetMaxInFlight(1000).
		SetBatchSize(50).
		SetLingerDuration(2 * time.Second).
		SetExportConcurrency(8).
		SetMaxRetries(5).
		SetRetryInterval(100 * time.Millisecond).
		SetMaxRetryInterval(time.Minute).
		SetExponentialBase(3).
		SetDisableDiagnostics(true).
		SetSerializerContext("ctx")

	assert.Equal(t, 1000, o.MaxInFlight())
	assert.Equal(t, 50, o.BatchSize())
	assert.Equal(t, 2*time.Second, o.LingerDuration())
	assert.Equal(t, 8, o.ExportConcurrency())
	assert.Equal(t, 5, o.MaxRetries())
	assert.Equal(t, 100*time.Millisecond, o.RetryInterval())
	assert.Equal(t, time.Minute, o.MaxRetryInterval())
	assert.Equal(t, float64(3), o.ExponentialBase())
	assert.True(t, o.DisableDiagnostics())
	assert.Equal(t, "ctx", o.SerializerContext())
}

func TestLoadOptionsYAML(t *testing.T) {
	doc := `
maxInFlight: 2000
batchSize: 100
lingerDuration: 500ms
outboundBufferMaxSize: 50
exportConcurrency: 4
maxRetries: 6
retryInterval: 200ms
maxRetryInterval: 30s
exponentialBase: 2.5
disableDiagnostics: true
`
	o, err := LoadOptionsYAML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2000, o.MaxInFlight())
	assert.Equal(t, 100, o.BatchSize())
	assert.Equal(t, 500*time.Millisecond, o.LingerDuration())
	assert.Equal(t, 50, o.OutboundBufferMaxSize())
	assert.Equal(t, 4, o.ExportConcurrency())
	assert.Equal(t, 6, o.MaxRetries())
	assert.Equal(t, 200*time.Millisecond, o.RetryInterval())
	assert.Equal(t, 30*time.Second, o.MaxRetryInterval())
	assert.Equal(t, 2.5, o.ExponentialBase())
	assert.True(t, o.DisableDiagnostics())
}

func TestLoadOptionsYAMLRejectsMalformedDocument(t *testing.T) {
	_, err := LoadOptionsYAML(strings.NewReader("maxInFlight: [not, a, number]"))
	require.Error(t, err)
}
