package distrepos

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/osg-htc/distrepos/internal/clients/proc"
)

// CadistRunner runs the external command which updates the CA certificate distribution.
type CadistRunner struct {
	Options Options
	Log     *logrus.Entry
}

func NewCadistRunner(options Options, log *logrus.Entry) *CadistRunner {
	return &CadistRunner{Options: options, Log: log.WithField("action", ActionCadist)}
}

// Run runs the cadist command while holding the cadist lock.
func (r *CadistRunner) Run(ctx context.Context) error {
	command := r.Options.CadistCommand
	if len(command) == 0 {
		return errors.New("no cadist command is configured")
	}
	return WithLock(r.Options.LockDir, string(ActionCadist), r.Log, func() error {
		if r.Options.TransferTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.Options.TransferTimeout)
			defer cancel()
		}
		description := "cadist update (" + strings.Join(command, " ") + ")"
		r.Log.Debugf("running %q", command)
		res, err := proc.Run(ctx, command[0], command[1:]...)
		if err != nil {
			return errors.Wrapf(err, "couldn't run %s", description)
		}
		if !proc.LogResult(r.Log, res, proc.DefaultLogOptions(description)) {
			return errors.Errorf("%s failed with exit code %d", description, res.ExitCode)
		}
		r.Log.Infof("%s ok", description)
		return nil
	})
}
