package runner

import "time"

type PlannerConfig struct {
	Base    time.Duration // default: 30 seconds
	Ceiling time.Duration // default: 10 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Base:    30 * time.Second,
		Ceiling: 10 * time.Minute,
	}
}

// Planner считает паузу перед следующей попыткой бронирования:
// экспоненциальный backoff с потолком.
type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.Ceiling < cfg.Base {
		cfg.Ceiling = cfg.Base
	}
	return &Planner{cfg: cfg}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig())
}

// Delay возвращает паузу после failCount-й неудачной попытки.
func (p *Planner) Delay(failCount int32) time.Duration {
	d := p.cfg.Base
	for i := int32(1); i < failCount; i++ {
		d *= 2
		if d >= p.cfg.Ceiling {
			return p.cfg.Ceiling
		}
	}
	if d > p.cfg.Ceiling {
		return p.cfg.Ceiling
	}
	return d
}
