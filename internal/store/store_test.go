package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/page-guard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(url string, status model.Status) model.VerdictRecord {
	return model.VerdictRecord{URL: url, Status: status, Explanation: "x", Timestamp: time.Now()}
}

func TestResultStorePutGetDelete(t *testing.T) {
	s := NewResultStore()

	_, ok := s.Get(1)
	assert.False(t, ok)

	s.Put(1, record("https://a.test", model.StatusSafe))
	s.Put(1, record("https://b.test", model.StatusDangerous))
	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "https://b.test", got.URL)
	assert.Equal(t, model.StatusDangerous, got.Status)
	assert.Equal(t, 1, s.Len())

	s.Delete(1)
	s.Delete(1)
	_, ok = s.Get(1)
	assert.False(t, ok)
}

func TestResultStoreReplaceIfURL(t *testing.T) {
	s := NewResultStore()
	assert.False(t, s.ReplaceIfURL(1, "https://a.test", record("https://a.test", model.StatusSafe)))

	s.Put(1, record("https://a.test", model.StatusPending))
	assert.False(t, s.ReplaceIfURL(1, "https://other.test", record("https://other.test", model.StatusSafe)))
	assert.True(t, s.ReplaceIfURL(1, "https://a.test", record("https://a.test", model.StatusSuspicious)))

	got, _ := s.Get(1)
	assert.Equal(t, model.StatusSuspicious, got.Status)
}

func TestResultStoreDeleteIf(t *testing.T) {
	s := NewResultStore()
	s.Put(2, record("https://a.test", model.StatusSafe))

	assert.False(t, s.DeleteIf(2, func(r model.VerdictRecord) bool { return r.Status == model.StatusError }))
	assert.True(t, s.DeleteIf(2, func(r model.VerdictRecord) bool { return r.Status == model.StatusSafe }))
	assert.False(t, s.DeleteIf(2, func(model.VerdictRecord) bool { return true }))
}

func TestResultStoreConcurrentTabs(t *testing.T) {
	s := NewResultStore()
	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(tab int) {
			defer wg.Done()
			url := fmt.Sprintf("https://site%d.test", tab)
			s.Put(tab, record(url, model.StatusPending))
			s.ReplaceIfURL(tab, url, record(url, model.StatusSafe))
			_, _ = s.Get(tab)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	for i := 0; i < 50; i++ {
		got, ok := s.Get(i)
		require.True(t, ok)
		assert.Equal(t, model.StatusSafe, got.Status)
	}
}

func TestOverrideSet(t *testing.T) {
	o := NewOverrideSet()
	o.Add("https://example.com/login")

	assert.True(t, o.Contains("https://example.com/login"))
	assert.False(t, o.Contains("https://example.com/login?x=1"))
	assert.False(t, o.Contains("https://example.com/"))

	o.Reset()
	assert.False(t, o.Contains("https://example.com/login"))
}

func TestResultStoreDeleteWhere(t *testing.T) {
	s := NewResultStore()
	s.Put(1, record("https://a.test", model.StatusError))
	s.Put(2, record("https://b.test", model.StatusSafe))
	s.Put(3, record("https://c.test", model.StatusError))

	n := s.DeleteWhere(func(r model.VerdictRecord) bool { return r.Status == model.StatusError })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get(2)
	assert.True(t, ok)
}
