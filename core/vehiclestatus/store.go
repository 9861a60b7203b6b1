// Package vehiclestatus keeps the current display state and path trail of
// every vehicle seen on the fleet channel.
package vehiclestatus

import (
	"sort"
	"sync"

	"github.com/kilianp07/fleetlive/core/model"
)

// Filter selects vehicles for the list view. An empty status or
// model.StatusAll matches everything.
type Filter struct {
	Status model.Status
}

// Store is the owned state of the reconciler. Readers only ever receive copies.
type Store interface {
	Get(id string) (model.VehicleState, bool)
	Set(model.VehicleState)
	AppendPath(id string, p model.PathPoint) int
	ClearPath(id string)
	Path(id string) []model.PathPoint
	Paths() map[string][]model.PathPoint
	List(Filter) []model.VehicleState
	Len() int
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]model.VehicleState
	trails map[string][]model.PathPoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   map[string]model.VehicleState{},
		trails: map[string][]model.PathPoint{},
	}
}

func (s *MemoryStore) Get(id string) (model.VehicleState, bool) {
	s.mu.RLock()
	st, ok := s.data[id]
	s.mu.RUnlock()
	return st, ok
}

func (s *MemoryStore) Set(st model.VehicleState) {
	s.mu.Lock()
	s.data[st.Number] = st
	s.mu.Unlock()
}

// AppendPath adds p to the trail of id and returns the new trail length.
func (s *MemoryStore) AppendPath(id string, p model.PathPoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trails[id] = append(s.trails[id], p)
	return len(s.trails[id])
}

// ClearPath resets the trail of id to an empty sequence.
func (s *MemoryStore) ClearPath(id string) {
	s.mu.Lock()
	s.trails[id] = []model.PathPoint{}
	s.mu.Unlock()
}

func (s *MemoryStore) Path(id string) []model.PathPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.PathPoint{}, s.trails[id]...)
}

func (s *MemoryStore) Paths() map[string][]model.PathPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.PathPoint, len(s.trails))
	for id, p := range s.trails {
		out[id] = append([]model.PathPoint{}, p...)
	}
	return out
}

func (s *MemoryStore) List(f Filter) []model.VehicleState {
	s.mu.RLock()
	res := make([]model.VehicleState, 0, len(s.data))
	for _, st := range s.data {
		res = append(res, st)
	}
	s.mu.RUnlock()
	return Project(res, f.Status)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Project filters states by status and orders them by numeric vehicle id.
// Ids that do not parse as numbers sort after numeric ones, lexicographically.
// The input slice is left untouched.
func Project(states []model.VehicleState, status model.Status) []model.VehicleState {
	res := make([]model.VehicleState, 0, len(states))
	for _, st := range states {
		if status != "" && status != model.StatusAll && st.Status != status {
			continue
		}
		res = append(res, st)
	}
	sort.SliceStable(res, func(i, j int) bool {
		ni, iok := res[i].NumericID()
		nj, jok := res[j].NumericID()
		switch {
		case iok && jok:
			if ni != nj {
				return ni < nj
			}
			return res[i].Number < res[j].Number
		case iok:
			return true
		case jok:
			return false
		default:
			return res[i].Number < res[j].Number
		}
	})
	return res
}
