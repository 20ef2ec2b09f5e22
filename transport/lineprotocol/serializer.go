// Copyright 2020-2021 InfluxData, Inc. All rights reserved.
// Use of this source code is governed by MIT
// license that can be found in the LICENSE file.

// Package lineprotocol serializes batches of Point events into InfluxDB
// line protocol, for use as the SerializeBatch half of a
// transport/httpbulk.Strategy.
//
// Grounded on the teacher's internal/write.Service.EncodePoints,
// pointWithDefaultTags and existTag (internal/write/service.go), adapted
// from a Service method taking *write.Point (a type this pack does not
// retain) to a standalone encoder over this package's own Point type.
package lineprotocol

import (
	"bytes"
	"io"
	"sort"
	"time"

	lp "github.com/influxdata/line-protocol"
)

// Point is a single line-protocol metric: a measurement name, a set of
// tags, a set of fields, and a timestamp. It implements lp.Metric.
type Point struct {
	name   string
	tags   []*lp.Tag
	fields []*lp.Field
	ts     time.Time
}

// NewPoint creates a Point. tags and fields are copied and tags are
// sorted by key, matching line protocol's canonical tag ordering.
func NewPoint(name string, tags map[string]string, fields map[string]interface{}, ts time.Time) *Point {
	p := &Point{name: name, ts: ts}
	for k, v := range tags {
		p.tags = append(p.tags, &lp.Tag{Key: k, Value: v})
	}
	sort.Slice(p.tags, func(i, j int) bool { return p.tags[i].Key < p.tags[j].Key })
	for k, v := range fields {
		p.fields = append(p.fields, &lp.Field{Key: k, Value: v})
	}
	return p
}

// Name implements lp.Metric.
func (p *Point) Name() string { return p.name }

// Time implements lp.Metric.
func (p *Point) Time() time.Time { return p.ts }

// TagList implements lp.Metric.
func (p *Point) TagList() []*lp.Tag { return p.tags }

// FieldList implements lp.Metric.
func (p *Point) FieldList() []*lp.Field { return p.fields }

// pointWithDefaultTags decorates a Point with tags that apply to every
// point from a given Serializer, letting a point's own tag override a
// default of the same key.
//
// Grounded verbatim on the teacher's pointWithDefaultTags/existTag.
type pointWithDefaultTags struct {
	point       *Point
	defaultTags map[string]string
}

func (p *pointWithDefaultTags) Name() string     { return p.point.Name() }
func (p *pointWithDefaultTags) Time() time.Time  { return p.point.Time() }
func (p *pointWithDefaultTags) FieldList() []*lp.Field { return p.point.FieldList() }

func (p *pointWithDefaultTags) TagList() []*lp.Tag {
	tags := make([]*lp.Tag, 0, len(p.point.TagList())+len(p.defaultTags))
	tags = append(tags, p.point.TagList()...)
	for k, v := range p.defaultTags {
		if !existTag(p.point.TagList(), k) {
			tags = append(tags, &lp.Tag{Key: k, Value: v})
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

func existTag(tags []*lp.Tag, key string) bool {
	for _, t := range tags {
		if t.Key == key {
			return true
		}
	}
	return false
}

// Serializer renders a slice of *Point events into line protocol text,
// with an optional precision and set of default tags applied to every
// point that doesn't already carry a tag of the same key.
type Serializer struct {
	Precision   time.Duration
	DefaultTags map[string]string
}

// NewSerializer creates a Serializer with nanosecond precision and no
// default tags.
func NewSerializer() *Serializer {
	return &Serializer{Precision: time.Nanosecond}
}

// Encode renders events (each expected to be a *Point; any other type is
// a programmer error and returns an error rather than panicking) into a
// single line-protocol buffer.
func (s *Serializer) Encode(events []interface{}) (io.Reader, error) {
	var buf bytes.Buffer
	enc := lp.NewEncoder(&buf)
	enc.SetFieldTypeSupport(lp.UintSupport)
	enc.FailOnFieldErr(true)
	enc.SetPrecision(s.Precision)

	for _, ev := range events {
		p, ok := ev.(*Point)
		if !ok {
			return nil, &UnsupportedEventError{Event: ev}
		}
		m := s.decorate(p)
		if _, err := enc.Encode(m); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}

func (s *Serializer) decorate(p *Point) lp.Metric {
	if len(s.DefaultTags) == 0 {
		return p
	}
	return &pointWithDefaultTags{point: p, defaultTags: s.DefaultTags}
}

// UnsupportedEventError is returned by Encode when an event is not a
// *Point.
type UnsupportedEventError struct {
	Event interface{}
}

func (e *UnsupportedEventError) Error() string {
	return "lineprotocol: event is not a *Point"
}
