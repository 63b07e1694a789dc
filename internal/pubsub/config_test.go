package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		AssignmentTimeout: time.Second * 30,
		FairnessCap:       50,
	}.withDefaults()

	assert.Equal(t, time.Second*30, cfg.AssignmentTimeout)
	assert.Equal(t, 50, cfg.FairnessCap)
	assert.Equal(t, defaultWaitMax, cfg.WaitMax)
	assert.Equal(t, defaultCleanInterval, cfg.CleanInterval)
}
