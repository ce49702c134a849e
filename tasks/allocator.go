package tasks

import (
	"github.com/vinayprograms/swarmkit/directory"
)

// Scoring weights. The score only ranks agents that already qualify.
const (
	scoreBase       = 100.0
	scoreIdleBonus  = 50.0
	scorePerBattery = 0.5
	scorePerMeter   = 0.1
)

// Eligible reports whether agent may run task.
func Eligible(task Task, agent directory.Agent) bool {
	req := task.Requirements

	if !agent.Online() {
		return false
	}
	if req.IsExclusive() && agent.Status == directory.StatusBusy {
		return false
	}
	if !agent.HasCapabilities(req.Capabilities) {
		return false
	}
	if len(req.AgentTypes) > 0 && !contains(req.AgentTypes, agent.Type) {
		return false
	}
	if req.MinBattery != nil && agent.Battery != nil && *agent.Battery < *req.MinBattery {
		return false
	}
	if req.HasProximity() {
		if agent.Position == nil {
			return false
		}
		if agent.Position.DistanceTo(*req.Near) > *req.MaxDistance {
			return false
		}
	}
	return true
}

// Score ranks an eligible agent for task; higher is better.
func Score(task Task, agent directory.Agent) float64 {
	score := scoreBase
	if agent.Status == directory.StatusIdle {
		score += scoreIdleBonus
	}
	if agent.Battery != nil {
		score += *agent.Battery * scorePerBattery
	}
	if task.Requirements.Near != nil && agent.Position != nil {
		score -= agent.Position.DistanceTo(*task.Requirements.Near) * scorePerMeter
	}
	return score
}

// Select picks the best eligible agent. Candidates are considered in
// the order given and ties keep the earlier one. ok is false when no
// agent qualifies.
func Select(task Task, candidates []directory.Agent) (best directory.Agent, score float64, ok bool) {
	for _, a := range candidates {
		if !Eligible(task, a) {
			continue
		}
		s := Score(task, a)
		if !ok || s > score {
			best, score, ok = a, s, true
		}
	}
	return best, score, ok
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
