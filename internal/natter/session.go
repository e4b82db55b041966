package natter

import (
	"context"
	"time"

	"github.com/danmuck/punchctl/internal/endpoint"
)

// Session owns the helper processes behind one published port map.
type Session struct {
	holes []*Hole
}

// PunchAll punches every spec in order. On any failure the holes punched so
// far are torn down; a partial set must never be published.
func (p *Puncher) PunchAll(ctx context.Context, specs []endpoint.PortSpec) (*Session, error) {
	sess := &Session{}
	for _, spec := range specs {
		hole, err := p.Punch(ctx, spec)
		if err != nil {
			sess.StopAll(p.cfg.StopGrace)
			return nil, err
		}
		sess.holes = append(sess.holes, hole)
	}
	return sess, nil
}

// Alive reports whether every helper in the session is still running.
func (s *Session) Alive() bool {
	if len(s.holes) == 0 {
		return false
	}
	for _, h := range s.holes {
		if !h.Alive() {
			return false
		}
	}
	return true
}

func (s *Session) StopAll(grace time.Duration) {
	for _, h := range s.holes {
		h.Stop(grace)
	}
}

func (s *Session) PortMap() endpoint.PortMap {
	m := make(endpoint.PortMap, len(s.holes))
	for _, h := range s.holes {
		m[h.Name] = h.Mapping
	}
	return m
}

// PublicIP is the server hole's punched public address, empty when the
// session holds no server entry.
func (s *Session) PublicIP() string {
	for _, h := range s.holes {
		if h.Name == endpoint.ServerPortName {
			return h.Mapping.PublicIP
		}
	}
	return ""
}
