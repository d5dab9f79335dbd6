package server

import "time"

// resettableTimer wraps time.Timer with the stop/reset discipline the
// Coordinator's action executor needs: a zero-second duration disables the
// timer instead of firing immediately, matching the teacher's own
// stopTimer/Reset helpers in server/fsm.go.
type resettableTimer struct {
	timer   *time.Timer
	running bool
}

func newResettableTimer() *resettableTimer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &resettableTimer{timer: t}
}

// C returns the underlying fire channel. Select on it directly; an inert
// timer (running == false) never sends.
func (rt *resettableTimer) C() <-chan time.Time {
	return rt.timer.C
}

// Start arms the timer for secs seconds. secs == 0 disables it.
func (rt *resettableTimer) Start(secs uint16) {
	rt.stopDrain()
	if secs == 0 {
		rt.running = false
		return
	}
	rt.timer.Reset(time.Duration(secs) * time.Second)
	rt.running = true
}

// Stop disables the timer and discards a tick already pending on its
// channel, so a stopped timer never delivers an expiry.
func (rt *resettableTimer) Stop() {
	rt.stopDrain()
	rt.running = false
}

// Fired marks the timer inert after its channel has delivered a value, so a
// subsequent Start doesn't race the old, already-consumed tick.
func (rt *resettableTimer) Fired() {
	rt.running = false
}

func (rt *resettableTimer) stopDrain() {
	if !rt.timer.Stop() {
		select {
		case <-rt.timer.C:
		default:
		}
	}
}
