package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsBurstThenDenies(t *testing.T) {
	l := newLimiter(3, time.Hour)

	assert.True(t, l.allow())
	assert.True(t, l.allow())
	assert.True(t, l.allow())
	assert.False(t, l.allow())
}

func TestLimiterRefills(t *testing.T) {
	l := newLimiter(2, 20*time.Millisecond)

	assert.True(t, l.allow())
	assert.True(t, l.allow())
	assert.False(t, l.allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.allow())
}

func TestLimiterSanitizesInputs(t *testing.T) {
	l := newLimiter(0, 0)
	assert.True(t, l.allow())
	assert.False(t, l.allow())
}
