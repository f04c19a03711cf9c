package dispatch

import "support-dispatch-backend/internal/model"

type matchCriteria struct {
	skills   []string
	priority model.Priority
	minTier  model.AgentTier
	exclude  []string
	// fallbackExcluded lets an excluded agent serve when no other agent
	// qualifies.
	fallbackExcluded bool
	// requireSkill rejects agents that know none of skills. Queue drains
	// set it; immediate matches fall back to the best agent regardless.
	requireSkill bool
}

func (c matchCriteria) excludes(agentID string) bool {
	for _, id := range c.exclude {
		if id == agentID {
			return true
		}
	}
	return false
}

func (c matchCriteria) eligible(a *model.Agent) bool {
	return c.qualifies(a) && !c.excludes(a.ID)
}

// qualifies checks everything but the exclusion list.
func (c matchCriteria) qualifies(a *model.Agent) bool {
	if a.Status != model.AgentStatusAvailable || !a.HasCapacity() {
		return false
	}
	if c.minTier != "" && a.Tier.Rank() < c.minTier.Rank() {
		return false
	}
	if c.requireSkill && len(c.skills) > 0 && skillOverlap(a, c.skills) == 0 {
		return false
	}
	return true
}

func skillOverlap(a *model.Agent, skills []string) int {
	n := 0
	for _, skill := range skills {
		if a.Knows(skill) {
			n++
		}
	}
	return n
}

// performanceRating is the agent's mean satisfaction on the 1-5 scale,
// zero until a rated session has been handled.
func performanceRating(a *model.Agent) float64 {
	if a.RatedSessions == 0 {
		return 0
	}
	return a.AvgSatisfaction
}

func scoreAgent(a *model.Agent, c matchCriteria) float64 {
	score := 10 * float64(skillOverlap(a, c.skills))
	score += 2 * performanceRating(a)
	score += 5 * float64(a.MaxSessions-a.CurrentSessions)
	score += a.AvgSatisfaction
	if c.priority == model.PriorityUrgent && a.Tier.Rank() > model.Tier1.Rank() {
		score += 20
	}
	return score
}

// bestMatch returns the highest scoring eligible agent. Ties go to the
// lighter load, then to the earlier registration. With fallbackExcluded
// set, excluded agents are considered once nobody else qualifies.
func (r *agentRegistry) bestMatch(c matchCriteria) *model.Agent {
	if best := r.pick(c.eligible, c); best != nil || !c.fallbackExcluded || len(c.exclude) == 0 {
		return best
	}
	return r.pick(c.qualifies, c)
}

func (r *agentRegistry) pick(ok func(*model.Agent) bool, c matchCriteria) *model.Agent {
	var (
		best      *model.Agent
		bestScore float64
	)
	for _, a := range r.all() {
		if !ok(a) {
			continue
		}
		score := scoreAgent(a, c)
		if best == nil || score > bestScore || (score == bestScore && a.CurrentSessions < best.CurrentSessions) {
			best = a
			bestScore = score
		}
	}
	return best
}
