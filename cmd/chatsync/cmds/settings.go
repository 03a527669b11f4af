package cmds

import (
	"context"

	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/pkg/errors"
)

// SettingsFunc returns the settings decoded by the root command's pre-run.
type SettingsFunc func() *config.Settings

// openRemote opens the configured backend and fails when none is configured.
func openRemote(ctx context.Context, s remote.Settings) (remote.Backend, error) {
	backend, err := remote.Open(ctx, s)
	if err != nil {
		return nil, errors.Wrap(err, "opening remote backend")
	}
	if backend == nil {
		return nil, errors.New("no remote backend configured, set remote.kind")
	}
	return backend, nil
}
