// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session implements the session manager (C6): per-stream state
// that remembers which portal is currently serving a stream, counts
// consecutive good segment fetches, and re-acquires the playlist (starting
// the portal chain at the session's current portal, with the next MAC) once
// a dwell-time-gated threshold is crossed. A background reaper evicts
// sessions that have gone idle.
package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stalkerhls/portalproxy/internal/acquirer"
	"github.com/stalkerhls/portalproxy/internal/config"
	xglog "github.com/stalkerhls/portalproxy/internal/log"
	"github.com/stalkerhls/portalproxy/internal/metrics"
)

const reapInterval = 15 * time.Second

// Session holds the live state for one stream id. Its mutex guards the
// rotation decision so concurrent segment requests for the same stream
// trigger at most one re-acquisition.
type Session struct {
	mu sync.Mutex

	portalIdx  int
	segOK      int
	lastSwitch time.Time
	baseURL    string
	lastUse    time.Time
}

// Manager tracks one Session per stream id and owns the Acquirer used to
// (re)populate a session's base URL.
type Manager struct {
	acq   *acquirer.Acquirer
	cfgFn func() config.AppConfig

	mu       sync.Mutex
	sessions map[string]*Session

	// rotate coalesces concurrent rotation attempts for the same stream id
	// so a burst of qualifying segment fetches drives exactly one call to
	// the acquirer (spec.md §4.6's single-flight lock).
	rotate singleflight.Group
}

// NewManager builds a Manager. cfgFn supplies the current tunables
// (SegOKLimit, MinSwitchSec, SessionIdleS) on every access.
func NewManager(acq *acquirer.Acquirer, cfgFn func() config.AppConfig) *Manager {
	return &Manager{
		acq:      acq,
		cfgFn:    cfgFn,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) getOrCreate(streamID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[streamID]
	if !ok {
		s = &Session{portalIdx: -1, lastUse: time.Now()}
		m.sessions[streamID] = s
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	return s
}

// lookup returns an existing session without creating one. Segment fetches
// only ever touch a session that a prior playlist request already created;
// auto-creating on a bare segment hint would let an adversarial stream id
// leak an unbounded number of empty sessions.
func (m *Manager) lookup(streamID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[streamID]
	return s, ok
}

// OnPlaylistRequest resolves the playlist body and base URL for streamID.
// requestedIdx is the portal index implied by the request path (e.g.
// /stream/{K}/...); every playlist request restarts the session's portal
// chain at it.
func (m *Manager) OnPlaylistRequest(ctx context.Context, streamID string, requestedIdx int) (acquirer.Result, error) {
	s := m.getOrCreate(streamID)

	s.mu.Lock()
	defer s.mu.Unlock()

	// spec.md §4.6: these four fields reset unconditionally, before the
	// Acquirer runs, so that even a failed re-acquisition leaves the
	// session's clock reset — last_use refreshed for the reaper, seg_ok/
	// last_switch reset for the next rotation gate.
	if n := len(m.cfgFn().Portals); n > 0 {
		requestedIdx = ((requestedIdx % n) + n) % n
	}
	s.portalIdx = requestedIdx
	s.segOK = 0
	s.lastSwitch = time.Now()
	s.lastUse = time.Now()

	result, err := m.acq.Obtain(ctx, streamID, requestedIdx)
	if err != nil {
		return acquirer.Result{}, err
	}

	s.portalIdx = result.SelectedIdx
	s.baseURL = result.BaseURL
	return result, nil
}

// OnSegmentFetch records a segment fetch outcome for the session matching
// streamID, if one exists (segment requests never create a session). A 2xx
// outcome increments seg_ok; any other outcome forces seg_ok to SegOKLimit
// so the very next qualifying segment triggers rotation, per spec.md §9's
// "do not forgive a failure silently" requirement.
//
// Rotation itself follows the double-checked-locking shape spec.md §9
// requires: the condition is evaluated once here, lock-free with respect to
// any in-flight rotation, and again inside the singleflight.Do closure
// below under s.mu immediately before acting. Keying Do by streamID means
// every concurrent caller that passes the first check funnels into the same
// closure invocation; only the caller that actually runs it re-checks and
// acts, and the rest block on Do and share its result — so a burst of
// qualifying segment fetches triggers at most one call to the acquirer.
func (m *Manager) OnSegmentFetch(ctx context.Context, streamID string, success bool) {
	s, ok := m.lookup(streamID)
	if !ok {
		return
	}
	cfg := m.cfgFn()

	s.mu.Lock()
	if success {
		s.segOK++
	} else {
		s.segOK = cfg.SegOKLimit
	}
	s.lastUse = time.Now()
	shouldRotate := s.segOK >= cfg.SegOKLimit && time.Since(s.lastSwitch) >= cfg.MinSwitchSec
	s.mu.Unlock()

	if !shouldRotate {
		return
	}

	_, _, _ = m.rotate.Do(streamID, func() (interface{}, error) {
		s.mu.Lock()
		rotateNow := s.segOK >= cfg.SegOKLimit && time.Since(s.lastSwitch) >= cfg.MinSwitchSec
		fromIdx := s.portalIdx
		s.mu.Unlock()

		if !rotateNow {
			return nil, nil
		}

		// spec.md §4.6: re-acquisition starts the rotated chain at the
		// session's *current* portal_idx, matching the Python original's
		// obtain_playlist(maybe_sid, sess.portal_idx). The MAC cursor has
		// already advanced, so this still produces a fresh (portal, MAC)
		// pair; the chain only spills over to the next portal once the
		// current one stops answering (e.g. BAD_CODES).
		logger := xglog.WithComponent("session")
		result, err := m.acq.Obtain(ctx, streamID, fromIdx)
		if err != nil {
			logger.Warn().Err(err).Str("stream_id", streamID).Msg("rotation acquisition failed, keeping current portal")
			return nil, nil
		}

		s.mu.Lock()
		s.portalIdx = result.SelectedIdx
		s.baseURL = result.BaseURL
		s.segOK = 0
		s.lastSwitch = time.Now()
		s.mu.Unlock()

		logger.Info().Str("stream_id", streamID).Int("from_idx", fromIdx).Int("to_idx", result.SelectedIdx).Msg("rotating session to next portal")
		metrics.SessionRotationsTotal.Inc()
		return nil, nil
	})
}

// BaseURL returns the current resolved base URL for streamID, if a session
// exists for it.
func (m *Manager) BaseURL(streamID string) (string, bool) {
	m.mu.Lock()
	s, ok := m.sessions[streamID]
	m.mu.Unlock()
	if !ok {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL, s.baseURL != ""
}

// Len reports the current number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap runs sweepOnce every 15s until ctx is canceled, evicting sessions
// idle longer than the current SessionIdleS.
func (m *Manager) Reap(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	idleAfter := m.cfgFn().SessionIdleS
	now := time.Now()
	logger := xglog.WithComponent("session")

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastUse)
		s.mu.Unlock()

		if idle >= idleAfter {
			delete(m.sessions, id)
			logger.Debug().Str("stream_id", id).Dur("idle", idle).Msg("reaped idle session")
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}
