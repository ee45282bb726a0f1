package vtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kelvinstack/desim/vtime"
)

func TestOrdering(t *testing.T) {
	a := vtime.New(10)
	b := vtime.New(20)

	assert.True(t, vtime.Start.Before(a))
	assert.True(t, a.Before(b))
	assert.True(t, b.Before(vtime.End))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(vtime.New(10)))
}

func TestSentinels(t *testing.T) {
	assert.True(t, vtime.Start.IsStart())
	assert.False(t, vtime.Start.IsEnd())
	assert.True(t, vtime.End.IsEnd())
	assert.False(t, vtime.New(5).IsStart())
}

func TestMinMax(t *testing.T) {
	a := vtime.New(10)
	b := vtime.New(20)
	assert.Equal(t, a, vtime.Min(a, b))
	assert.Equal(t, b, vtime.Max(a, b))
}

func TestString(t *testing.T) {
	assert.Equal(t, "START", vtime.Start.String())
	assert.Equal(t, "END", vtime.End.String())
	assert.Equal(t, "10", vtime.New(10).String())
}
