package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_First(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := New(time.Minute, 10)
	w.now = func() time.Time { return now }

	k := Key("ground/255/data", []byte(`{"plot_id":1}`))
	assert.True(t, w.First(k))
	assert.False(t, w.First(k))

	now = now.Add(2 * time.Minute)
	assert.True(t, w.First(k))
}

func TestWindow_EmptyKeyAndForget(t *testing.T) {
	w := New(time.Minute, 10)
	assert.True(t, w.First(""))
	assert.True(t, w.First(""))
	assert.Equal(t, 0, w.Len())

	w.First("a")
	w.Forget("a")
	assert.True(t, w.First("a"))
}

func TestWindow_BoundedSize(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := New(time.Hour, 3)
	w.now = func() time.Time { return now }
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		now = now.Add(time.Second)
		assert.True(t, w.First(k))
	}
	assert.LessOrEqual(t, w.Len(), 3)
}

func TestKey(t *testing.T) {
	a := Key("ground/1/data", []byte("x"))
	assert.Equal(t, a, Key("ground/1/data", []byte("x")))
	assert.NotEqual(t, a, Key("ground/2/data", []byte("x")))
	assert.NotEqual(t, a, Key("ground/1/data", []byte("y")))
}
