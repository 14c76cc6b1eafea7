package store

import (
	"sync"

	"github.com/IliaW/page-guard/internal/model"
)

// ResultStore holds at most one VerdictRecord per tab. Safe for concurrent use.
type ResultStore struct {
	mu      sync.RWMutex
	records map[int]model.VerdictRecord
}

func NewResultStore() *ResultStore {
	return &ResultStore{records: make(map[int]model.VerdictRecord)}
}

func (s *ResultStore) Get(tabID int) (model.VerdictRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[tabID]
	return rec, ok
}

// Put replaces the tab's record. Last write wins.
func (s *ResultStore) Put(tabID int, rec model.VerdictRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[tabID] = rec
}

// ReplaceIfURL stores rec only when the tab still holds a record for expectedURL.
// It returns false when the tab was closed or moved on to another page in the meantime.
func (s *ResultStore) ReplaceIfURL(tabID int, expectedURL string, rec model.VerdictRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[tabID]
	if !ok || cur.URL != expectedURL {
		return false
	}
	s.records[tabID] = rec
	return true
}

// Delete removes the tab's record. Deleting a missing tab is a no-op.
func (s *ResultStore) Delete(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, tabID)
}

// DeleteIf removes the tab's record when pred holds for it, atomically.
func (s *ResultStore) DeleteIf(tabID int, pred func(model.VerdictRecord) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[tabID]
	if !ok || !pred(cur) {
		return false
	}
	delete(s.records, tabID)
	return true
}

// DeleteWhere removes every record pred holds for and returns how many were removed.
func (s *ResultStore) DeleteWhere(pred func(model.VerdictRecord) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for tabID, rec := range s.records {
		if pred(rec) {
			delete(s.records, tabID)
			n++
		}
	}
	return n
}

func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
