package natsconn

import (
	"errors"
	"slices"

	"github.com/nats-io/nats.go"
)

// EnsureStream creates the stream, or widens its subjects when it already
// exists without them.
func EnsureStream(js nats.JetStreamContext, cfg *nats.StreamConfig) error {
	info, err := js.StreamInfo(cfg.Name)
	if err == nil {
		missing := false
		for _, s := range cfg.Subjects {
			if !slices.Contains(info.Config.Subjects, s) {
				missing = true
				break
			}
		}
		if !missing {
			return nil
		}
		updated := info.Config
		updated.Subjects = cfg.Subjects
		_, err = js.UpdateStream(&updated)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(cfg)
	return err
}
