package main

import (
	"errors"
	"fmt"
	"testing"

	"laserstream-relay/src/helpers"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitConfig, exitCode(helpers.NewConfigurationError("unknown upstream kind %q", "kafka")))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("build feed: %w", helpers.NewConfigurationError("bad proxy"))))

	assert.Equal(t, exitFatal, exitCode(helpers.NewExhaustedError("ingester", 5, errors.New("refused"))))
	assert.Equal(t, exitFatal, exitCode(errors.New("listen tcp :8080: address already in use")))
}
