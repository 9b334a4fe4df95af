package service

import (
	"sync"
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected   atomic.Bool
	stalled       atomic.Bool
	lastCycleUnix atomic.Int64 // unix millis
	lastBookUnix  atomic.Int64 // unix millis
	cycles        atomic.Int64

	mu        sync.RWMutex
	lastError string
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) SetStalled(v bool) { s.stalled.Store(v) }
func (s *State) Stalled() bool     { return s.stalled.Load() }

// TouchCycle records a completed cycle and clears the stalled flag.
func (s *State) TouchCycle(t time.Time) {
	s.lastCycleUnix.Store(t.UnixMilli())
	s.cycles.Add(1)
	s.stalled.Store(false)
}

func (s *State) LastCycle() time.Time { return fromMillis(s.lastCycleUnix.Load()) }
func (s *State) Cycles() int64        { return s.cycles.Load() }

func (s *State) TouchBook(t time.Time) { s.lastBookUnix.Store(t.UnixMilli()) }
func (s *State) LastBook() time.Time   { return fromMillis(s.lastBookUnix.Load()) }

func (s *State) SetLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastError = ""
		return
	}
	s.lastError = err.Error()
}

func (s *State) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
