package pubsub

import "time"

const (
	defaultAssignmentTimeout    = time.Second * 20
	defaultNotificationInterval = time.Millisecond * 500
	defaultInactivityThreshold  = time.Minute * 10
	defaultCleanInterval        = time.Second * 15
	defaultWaitMax              = time.Second * 5
	defaultFairnessCap          = 200
)

// Config tunes the dispatch engine. Zero values fall back to the defaults.
type Config struct {
	// AssignmentTimeout is the max age of an unacknowledged assignment before
	// it is revoked.
	AssignmentTimeout time.Duration
	// NotificationInterval is the period between client poll-hint bursts.
	NotificationInterval time.Duration
	// InactivityThreshold is how long a subscription may stay idle before it
	// is unsubscribed.
	InactivityThreshold time.Duration
	// CleanInterval is the expiration task period.
	CleanInterval time.Duration
	// WaitMax bounds the dispatch worker's idle sleep.
	WaitMax time.Duration
	// FairnessCap is the max items a single phase processes per iteration
	// before yielding.
	FairnessCap int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		AssignmentTimeout:    defaultAssignmentTimeout,
		NotificationInterval: defaultNotificationInterval,
		InactivityThreshold:  defaultInactivityThreshold,
		CleanInterval:        defaultCleanInterval,
		WaitMax:              defaultWaitMax,
		FairnessCap:          defaultFairnessCap,
	}
}

func (c Config) withDefaults() Config {
	if c.AssignmentTimeout <= 0 {
		c.AssignmentTimeout = defaultAssignmentTimeout
	}
	if c.NotificationInterval <= 0 {
		c.NotificationInterval = defaultNotificationInterval
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = defaultInactivityThreshold
	}
	if c.CleanInterval <= 0 {
		c.CleanInterval = defaultCleanInterval
	}
	if c.WaitMax <= 0 {
		c.WaitMax = defaultWaitMax
	}
	if c.FairnessCap <= 0 {
		c.FairnessCap = defaultFairnessCap
	}

	return c
}
