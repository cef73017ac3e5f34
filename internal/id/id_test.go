package id

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSequence(t *testing.T) {
	var s Sequence
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())

	s.Observe(10)
	assert.Equal(t, int64(11), s.Next())

	s.Observe(3)
	assert.Equal(t, int64(12), s.Next())
}

func TestSequence_Concurrent(t *testing.T) {
	var s Sequence
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Next()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(51), s.Next())
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
