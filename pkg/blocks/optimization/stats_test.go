package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockengine/pkg/record"
)

func TestStatsCollectorStrideSampling(t *testing.T) {
	s := NewStatsCollector("sc-1")
	require.NoError(t, s.Initialize(map[string]any{"column": "id", "sample_rate": 0.5}))
	assert.Equal(t, 2, s.stride)

	for i := 0; i < 10; i++ {
		s.Observe(record.Record{"id": i})
	}
	assert.Equal(t, 5, s.sampled)
}

func TestStatsCollectorMinMaxDistinct(t *testing.T) {
	s := NewStatsCollector("sc-2")
	require.NoError(t, s.Initialize(map[string]any{"column": "id", "sample_rate": 1.0}))

	for _, v := range []int{5, 1, 9, 1, 3} {
		s.Observe(record.Record{"id": v})
	}

	assert.Equal(t, "1", s.min)
	assert.Equal(t, "9", s.max)
	assert.Equal(t, 4, len(s.distinct))
}

func TestStatsCollectorNullCount(t *testing.T) {
	s := NewStatsCollector("sc-3")
	require.NoError(t, s.Initialize(map[string]any{"column": "id", "sample_rate": 1.0}))

	s.Observe(record.Record{"id": nil})
	s.Observe(record.Record{})
	s.Observe(record.Record{"id": 1})

	assert.Equal(t, 2, s.nullCount)
}

func TestStatsCollectorInvalidSampleRate(t *testing.T) {
	s := NewStatsCollector("sc-4")
	err := s.Initialize(map[string]any{"sample_rate": 0})
	assert.Error(t, err)

	err = s.Initialize(map[string]any{"sample_rate": 1.5})
	assert.Error(t, err)
}
