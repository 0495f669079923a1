package detect

import (
	"log"
	"strings"
)

// progress prints a coarse console bar while replaying event history.
type progress struct {
	logger *log.Logger
	total  int
	steps  int
	next   float64
	part   float64
	done   int
}

func newProgress(logger *log.Logger, total, steps int) *progress {
	if steps <= 0 {
		steps = 10
	}
	return &progress{
		logger: logger,
		total:  total,
		steps:  steps,
		part:   float64(total) / float64(steps),
	}
}

func (p *progress) step(i int) {
	if p == nil || p.total <= 0 {
		return
	}
	if float64(i) < p.next {
		return
	}
	p.next += p.part
	p.done++
	if p.done > p.steps {
		return
	}
	p.logger.Printf("replay progress [%s%s]",
		strings.Repeat("#", p.done),
		strings.Repeat("-", p.steps-p.done))
}
