package progress

import (
	"sync"
	"time"
)

// HeartbeatConfig sets the advisory percent ticker used while the frontier
// size is unknown.
type HeartbeatConfig struct {
	Interval time.Duration
	Step     int
	Ceiling  int
	Message  string
}

// Heartbeat periodically advances an Emitter toward a ceiling.
type Heartbeat struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartHeartbeat begins ticking immediately. Callers must Stop it on every
// exit path of the phase it instruments.
func StartHeartbeat(e *Emitter, cfg HeartbeatConfig) *Heartbeat {
	hb := &Heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.Interval <= 0 || cfg.Step <= 0 {
		close(hb.done)
		return hb
	}
	go hb.run(e, cfg)
	return hb
}

func (hb *Heartbeat) run(e *Emitter, cfg HeartbeatConfig) {
	defer close(hb.done)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			// A stop racing the tick wins.
			select {
			case <-hb.stop:
				return
			default:
			}
			e.Advance(cfg.Step, cfg.Ceiling, cfg.Message)
		}
	}
}

// Stop ends the ticker and blocks until no further tick can be written. It
// is safe to call more than once.
func (hb *Heartbeat) Stop() {
	hb.stopOnce.Do(func() { close(hb.stop) })
	<-hb.done
}
