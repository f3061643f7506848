package app

// nearEndWindow is the number of final seconds flagged for countdown feedback.
const nearEndWindow = 5

// Countdown tracks the remaining seconds of one play session. It is a plain
// counter: callers drive it with Tick and guard it with the game's lock.
type Countdown struct {
	remaining int
	expired   bool
}

// NewCountdown starts a countdown at the given number of seconds.
func NewCountdown(seconds int) *Countdown {
	return &Countdown{remaining: seconds}
}

// Remaining reports the seconds left, floored at zero.
func (c *Countdown) Remaining() int {
	return c.remaining
}

// TickResult describes the outcome of one countdown tick.
type TickResult struct {
	Remaining int
	// NearEnd is set for each tick that leaves between 1 and 5 seconds.
	NearEnd bool
	// Expired is set exactly once, on the tick that reaches zero.
	Expired bool
}

// Tick decrements the countdown by one second. After expiry it reports zero
// remaining and never fires Expired again.
func (c *Countdown) Tick() TickResult {
	if c.expired {
		return TickResult{Remaining: 0}
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.expired = true
		return TickResult{Remaining: 0, Expired: true}
	}
	return TickResult{
		Remaining: c.remaining,
		NearEnd:   c.remaining >= 1 && c.remaining <= nearEndWindow,
	}
}
