package gpuspy

import (
	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/producer"
)

// FakeDriver is a scriptable driver.Driver implementation for downstream
// testers who wire a Controller without a real GPU driver present. It is a
// direct re-export of the internal fake used by this module's own tests.
type FakeDriver = driver.FakeDriver

// NewFakeDriver creates a FakeDriver with no staged devices or queries.
func NewFakeDriver() *FakeDriver { return driver.NewFakeDriver() }

// FakeProducer is an in-memory producer.Producer for downstream testers
// who want to drive a Controller's capture lifecycle without a real
// capture-event sink attached.
type FakeProducer = producer.FakeProducer

// NewFakeProducer creates a FakeProducer that is not capturing.
func NewFakeProducer() *FakeProducer { return producer.NewFakeProducer() }
