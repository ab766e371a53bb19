package stage

import "context"

// Health is the readiness of the collaborator behind one stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy records why the collaborator cannot currently serve its stage.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// ProbeAll runs every checker and keys the results by stage. Nil checkers
// are skipped so optional collaborators can be left unset.
func ProbeAll(ctx context.Context, checkers map[string]HealthChecker) map[string]Health {
	out := make(map[string]Health, len(checkers))
	for name, checker := range checkers {
		if checker == nil {
			continue
		}
		h := checker.HealthCheck(ctx)
		if h.Name == "" {
			h.Name = name
		}
		out[name] = h
	}
	return out
}
