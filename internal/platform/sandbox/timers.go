package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// timer is a pending setTimeout or setInterval callback. Timers run on the
// page's virtual clock: zero-delay timers fire after the current evaluation,
// later ones only when the clock is advanced.
type timer struct {
	id       int64
	seq      int64
	due      time.Duration
	interval time.Duration
	world    *world
	fn       goja.Callable
	args     []goja.Value
}

func (p *Page) makeTimerFunc(w *world, repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return w.vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		p.timerSeq++
		t := &timer{
			id:    p.timerSeq,
			seq:   p.timerSeq,
			due:   p.now + delay,
			world: w,
			fn:    fn,
			args:  args,
		}
		if repeat {
			t.interval = delay
			if t.interval < time.Millisecond {
				t.interval = time.Millisecond
			}
			t.due = p.now + t.interval
		}
		p.timers = append(p.timers, t)
		return w.vm.ToValue(t.id)
	}
}

func (p *Page) makeClearFunc(w *world) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		for i, t := range p.timers {
			if t.id == id && t.world == w {
				p.timers = append(p.timers[:i], p.timers[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	}
}

// nextDueLocked removes and returns the earliest timer due at or before
// limit.
func (p *Page) nextDueLocked(limit time.Duration) *timer {
	best := -1
	for i, t := range p.timers {
		if t.due > limit {
			continue
		}
		if best < 0 || t.due < p.timers[best].due || (t.due == p.timers[best].due && t.seq < p.timers[best].seq) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	t := p.timers[best]
	p.timers = append(p.timers[:best], p.timers[best+1:]...)
	return t
}

func (p *Page) fireLocked(ctx context.Context, t *timer) {
	if t.interval > 0 {
		p.timerSeq++
		next := *t
		next.seq = p.timerSeq
		next.due = t.due + t.interval
		p.timers = append(p.timers, &next)
	}
	_, err := p.execLocked(ctx, t.world, func() (goja.Value, error) {
		return t.fn(goja.Undefined(), t.args...)
	})
	if err != nil {
		p.logLocked(t.world.name, "error", err.Error())
		p.logger.Debug("Timer callback failed", zap.Int64("timer", t.id), zap.Error(err))
	}
}

// runDueTimersLocked fires every timer due now, including the ones those
// callbacks schedule with zero delay.
func (p *Page) runDueTimersLocked(ctx context.Context) {
	for i := 0; i < p.cfg.MaxTimerRuns; i++ {
		t := p.nextDueLocked(p.now)
		if t == nil {
			return
		}
		p.fireLocked(ctx, t)
	}
	p.logger.Warn("Timer run limit reached", zap.Int("limit", p.cfg.MaxTimerRuns))
}

// advanceLocked moves the clock forward by d, firing timers in due order.
func (p *Page) advanceLocked(ctx context.Context, d time.Duration) {
	target := p.now + d
	for i := 0; i < p.cfg.MaxTimerRuns; i++ {
		t := p.nextDueLocked(target)
		if t == nil {
			break
		}
		if t.due > p.now {
			p.now = t.due
		}
		p.fireLocked(ctx, t)
	}
	p.now = target
	p.runDueTimersLocked(ctx)
}
