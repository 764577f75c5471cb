package services

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/prudhvinik1/syncbridge/internal/engine"
	"github.com/prudhvinik1/syncbridge/internal/legacy"
)

type fakeSource[C Identified] struct {
	mu       sync.Mutex
	items    map[string]C
	getErr   error
	listErr  error
	countErr error
}

func newFakeSource[C Identified](items ...C) *fakeSource[C] {
	s := &fakeSource[C]{items: make(map[string]C)}
	for _, it := range items {
		s.items[it.GetID()] = it
	}
	return s
}

func (s *fakeSource[C]) put(it C) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.GetID()] = it
}

func (s *fakeSource[C]) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func (s *fakeSource[C]) List(ctx context.Context) ([]C, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]C, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id])
	}
	return out, nil
}

func (s *fakeSource[C]) Get(ctx context.Context, id string) (C, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero C
	if s.getErr != nil {
		return zero, s.getErr
	}
	it, ok := s.items[id]
	if !ok {
		return zero, engine.ErrNotFound
	}
	return it, nil
}

func (s *fakeSource[C]) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.items)), nil
}

type fakeLegacy[L Identified] struct {
	mu      sync.Mutex
	items   map[string]L
	fail    map[string]bool
	creates int
	updates int
	deletes int
	reads   int

	// When set, List signals listing and then waits for release.
	listing chan struct{}
	release chan struct{}
}

func newFakeLegacy[L Identified](items ...L) *fakeLegacy[L] {
	l := &fakeLegacy[L]{items: make(map[string]L), fail: make(map[string]bool)}
	for _, it := range items {
		l.items[it.GetID()] = it
	}
	return l
}

var errLegacyDown = errors.New("legacy exploded")

func (l *fakeLegacy[L]) Create(ctx context.Context, entity L) legacy.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creates++
	id := entity.GetID()
	if l.fail[id] {
		return legacy.Result{StatusCode: http.StatusInternalServerError, Err: errLegacyDown}
	}
	if _, ok := l.items[id]; ok {
		return legacy.Result{StatusCode: http.StatusConflict, Err: errors.New("exists")}
	}
	l.items[id] = entity
	return legacy.Result{Success: true, StatusCode: http.StatusCreated}
}

func (l *fakeLegacy[L]) Update(ctx context.Context, id string, entity L) legacy.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates++
	if l.fail[id] {
		return legacy.Result{StatusCode: http.StatusInternalServerError, Err: errLegacyDown}
	}
	if _, ok := l.items[id]; !ok {
		return legacy.Result{StatusCode: http.StatusNotFound, NotFound: true, Err: legacy.ErrNotFound}
	}
	l.items[id] = entity
	return legacy.Result{Success: true, StatusCode: http.StatusOK}
}

func (l *fakeLegacy[L]) Delete(ctx context.Context, id string) legacy.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deletes++
	if l.fail[id] {
		return legacy.Result{StatusCode: http.StatusInternalServerError, Err: errLegacyDown}
	}
	if _, ok := l.items[id]; !ok {
		return legacy.Result{StatusCode: http.StatusNotFound, NotFound: true, Err: legacy.ErrNotFound}
	}
	delete(l.items, id)
	return legacy.Result{Success: true, StatusCode: http.StatusNoContent}
}

func (l *fakeLegacy[L]) Get(ctx context.Context, id string) (L, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	it, ok := l.items[id]
	if !ok {
		var zero L
		return zero, legacy.ErrNotFound
	}
	return it, nil
}

func (l *fakeLegacy[L]) List(ctx context.Context) ([]L, error) {
	if l.listing != nil {
		l.listing <- struct{}{}
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	ids := make([]string, 0, len(l.items))
	for id := range l.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]L, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.items[id])
	}
	return out, nil
}

func (l *fakeLegacy[L]) Count(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	return int64(len(l.items)), nil
}

func (l *fakeLegacy[L]) mutations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creates + l.updates + l.deletes
}

func (l *fakeLegacy[L]) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creates + l.updates + l.deletes + l.reads
}

func (l *fakeLegacy[L]) resetCounters() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creates, l.updates, l.deletes, l.reads = 0, 0, 0, 0
}

func (l *fakeLegacy[L]) ids() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.items))
	for id := range l.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *fakeLegacy[L]) get(id string) (L, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	return it, ok
}
