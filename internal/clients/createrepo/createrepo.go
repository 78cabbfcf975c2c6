// Package createrepo wraps the createrepo_c program for generating repository metadata.
package createrepo

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/osg-htc/distrepos/internal/clients/proc"
)

const DefaultBinary = "createrepo_c"

type Client struct {
	Binary string
	Log    *logrus.Entry
}

func NewClient(log *logrus.Entry) *Client {
	return &Client{Binary: DefaultBinary, Log: log}
}

// Args builds the arguments for generating metadata in the directory, restricted to the packages
// named in the pkglist file.
func Args(dir, pkglist string) []string {
	return []string{dir, "--pkglist=" + pkglist}
}

// Generate writes the repodata directory for the packages listed in pkglist under dir.
func (c *Client) Generate(ctx context.Context, dir, pkglist string) error {
	c.Log.Debugf("running %s %q", c.Binary, Args(dir, pkglist))
	res, err := proc.Run(ctx, c.Binary, Args(dir, pkglist)...)
	if err != nil {
		return err
	}
	if !proc.LogResult(c.Log, res, proc.DefaultLogOptions(c.Binary+" "+dir)) {
		return errors.Errorf("%s exited with code %d for %s", c.Binary, res.ExitCode, dir)
	}
	return nil
}
