//go:build linux

package agent

import (
	"github.com/padmux/padmux/internal/padsvc"
	"github.com/padmux/padmux/internal/padsvc/evdev"
	"go.uber.org/zap"
)

const platformBackendName = "evdev"

func newPlatformBackend(log *zap.Logger, config Config) (padsvc.Backend, error) {
	return evdev.NewBackend(log.Named("pad.evdev"), evdev.WithPollInterval(config.PollInterval)), nil
}
