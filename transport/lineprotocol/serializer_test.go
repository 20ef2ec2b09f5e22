// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

package lineprotocol

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestSerializerEncodesASinglePoint(t *testing.T) {
	s := NewSerializer()
	ts := time.Unix(0, 1000)
	p := NewPoint("cpu", map[string]string{"host": "a"}, map[string]interface{}{"value": 1.5}, ts)

	r, err := s.Encode([]interface{}{p})
	require.NoError(t, err)
	out := readAll(t, r)

	assert.Contains(t, out, "cpu,host=a value=1.5")
}

func TestSerializerAppliesDefaultTagsWithoutOverridingExisting(t *testing.T) {
	s := NewSerializer()
	s.DefaultTags = map[string]string{"region": "us", "host": "default"}
	ts := time.Unix(0, 2000)
	p := NewPoint("cpu", map[string]string{"host": "explicit"}, map[string]interface{}{"value": 1}, ts)

	r, err := s.Encode([]interface{}{p})
	require.NoError(t, err)
	out := readAll(t, r)

	assert.Contains(t, out, "host=explicit")
	assert.Contains(t, out, "region=us")
	assert.NotContains(t, out, "host=default")
}

func TestSerializerRejectsNonPointEvents(t *testing.T) {
	s := NewSerializer()
	_, err := s.Encode([]interface{}{"not a point"})
	require.Error(t, err)
	var uerr *UnsupportedEventError
	assert.ErrorAs(t, err, &uerr)
}

func TestSerializerEncodesMultiplePointsInOrder(t *testing.T) {
	s := NewSerializer()
	ts := time.Unix(0, 3000)
	p1 := NewPoint("cpu", nil, map[string]interface{}{"value": 1}, ts)
	p2 := NewPoint("mem", nil, map[string]interface{}{"value": 2}, ts)

	r, err := s.Encode([]interface{}{p1, p2})
	require.NoError(t, err)
	out := readAll(t, r)

	cpuIdx := indexOf(out, "cpu")
	memIdx := indexOf(out, "mem")
	require.GreaterOrEqual(t, cpuIdx, 0)
	require.GreaterOrEqual(t, memIdx, 0)
	assert.Less(t, cpuIdx, memIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestPointTagListIsSortedByKey(t *testing.T) {
	p := NewPoint("cpu", map[string]string{"z": "1", "a": "2"}, nil, time.Unix(0, 0))
	tags := p.TagList()
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].Key)
	assert.Equal(t, "z", tags[1].Key)
}
