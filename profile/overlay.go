package profile

import (
	"sync"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// experienceLog holds experiences appended to sources whose base data is
// read-only, such as template files or generated text.
type experienceLog struct {
	mu   sync.RWMutex
	byID map[string][]core.Experience
}

func newExperienceLog() *experienceLog {
	return &experienceLog{byID: make(map[string][]core.Experience)}
}

func (l *experienceLog) append(agentID string, exp core.Experience) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[agentID] = append(l.byID[agentID], exp)
}

// apply attaches the agent's experiences to p and sets the version.
func (l *experienceLog) apply(p *core.ProfileData) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	exps := l.byID[p.AgentID]
	p.Experiences = append([]core.Experience(nil), exps...)
	p.Version = uint64(len(exps)) + 1
}
