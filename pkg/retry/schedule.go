package retry

import "time"

// Tier applies Delay to every attempt number up to and including UpTo
type Tier struct {
	UpTo  int
	Delay time.Duration
}

// Schedule maps a consecutive-failure count to a fixed delay. Attempts past
// the last tier use Final. Unlike Config it never gives up.
type Schedule struct {
	Tiers []Tier
	Final time.Duration
}

// ConnectionSchedule is the source reconnect policy: the first attempt is
// immediate, attempts 1-5 wait 1s, 6-10 wait 5s, later ones 10s.
func ConnectionSchedule() Schedule {
	return Schedule{
		Tiers: []Tier{
			{UpTo: 0, Delay: 0},
			{UpTo: 5, Delay: time.Second},
			{UpTo: 10, Delay: 5 * time.Second},
		},
		Final: 10 * time.Second,
	}
}

// Delay returns the wait before the given attempt (0-based failure count)
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	for _, tier := range s.Tiers {
		if attempt <= tier.UpTo {
			return tier.Delay
		}
	}
	return s.Final
}
