// Package session keeps per-browser control panel state keyed by a cookie.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vib3/photomesh/internal/timeutil"
)

// CookieName is the session cookie.
const CookieName = "photomesh_session"

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

// Models holds the paths of the most recently generated meshes.
type Models struct {
	OBJ string `json:"obj,omitempty"`
	PLY string `json:"ply,omitempty"`
	GLB string `json:"glb,omitempty"`
	STL string `json:"stl,omitempty"`
}

// Session is the state of one browser.
type Session struct {
	ID string

	mu             sync.Mutex
	models         Models
	uploadedSTL    string
	rotationOffset float64
	lastRunID      string
	lastSeen       time.Time
}

// SetModels records the meshes produced by a reconstruction.
func (s *Session) SetModels(m Models, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = m
	s.lastRunID = runID
}

// Models returns the generated mesh paths.
func (s *Session) Models() Models {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models
}

// LastRunID returns the ID of the last reconstruction started from this
// session.
func (s *Session) LastRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunID
}

// SetUploadedSTL records an STL produced from a user upload.
func (s *Session) SetUploadedSTL(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadedSTL = path
}

// ViewerSTL returns the mesh to show in the viewer. An uploaded mesh wins
// over a generated one; an empty string means there is nothing to show.
func (s *Session) ViewerSTL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadedSTL != "" {
		return s.uploadedSTL
	}
	return s.models.STL
}

// AdvanceRotation applies one render step to the rotation offset and
// returns the new value. next computes the new offset from the old one.
func (s *Session) AdvanceRotation(next func(old float64) float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotationOffset = next(s.rotationOffset)
	return s.rotationOffset
}

// Store holds sessions in memory.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    timeutil.Clock
	ttl      time.Duration
	secure   bool
}

// NewStore creates an empty store. A nil clock uses the real clock.
func NewStore(clock timeutil.Clock) *Store {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Store{
		sessions: make(map[string]*Session),
		clock:    clock,
		ttl:      DefaultTTL,
	}
}

// SetSecureCookies marks issued cookies Secure.
func (st *Store) SetSecureCookies(secure bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.secure = secure
}

// Get returns the session named by the request cookie, creating one and
// setting the cookie on w if it is missing, malformed or expired.
func (st *Store) Get(w http.ResponseWriter, r *http.Request) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.clock.Now()
	if c, err := r.Cookie(CookieName); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			if s, ok := st.sessions[c.Value]; ok {
				s.mu.Lock()
				expired := now.Sub(s.lastSeen) > st.ttl
				if !expired {
					s.lastSeen = now
				}
				s.mu.Unlock()
				if !expired {
					return s
				}
				delete(st.sessions, c.Value)
			}
		}
	}

	s := &Session{ID: uuid.NewString(), lastSeen: now}
	st.sessions[s.ID] = s
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   st.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

// Prune removes sessions idle for longer than the TTL and returns how many
// were removed.
func (st *Store) Prune() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.clock.Now()
	removed := 0
	for id, s := range st.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastSeen)
		s.mu.Unlock()
		if idle > st.ttl {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
