//go:build darwin || windows

package agent

import (
	"github.com/padmux/padmux/internal/padsvc"
	"github.com/padmux/padmux/internal/padsvc/hidpoll"
	"go.uber.org/zap"
)

const platformBackendName = "hidpoll"

func newPlatformBackend(log *zap.Logger, config Config) (padsvc.Backend, error) {
	return hidpoll.NewBackend(log.Named("pad.hid"), hidpoll.WithPollInterval(config.PollInterval)), nil
}
