package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainKey(t *testing.T) {
	a := DomainKey("https://www.example.com/login")
	b := DomainKey("http://example.com/other?page=2")
	c := DomainKey("https://example.org/login")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// memcached keys are limited to 250 bytes without spaces
	assert.Less(t, len(a), 250)
	assert.NotContains(t, DomainKey("not a url at all"), " ")
}

func TestNoopClient(t *testing.T) {
	var c CachedClient = NoopClient{}
	for i := 0; i < 100; i++ {
		assert.NoError(t, c.IncrementThreshold("https://example.com"))
	}
	c.Close()
}
