package distrepos

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// Rotate publishes the working tree: the published tree (if any) becomes the previous tree, and
// the working tree becomes the published tree. The old previous tree is deleted. If the working
// tree can't be moved into place, the previous tree is moved back to the published path.
func Rotate(paths TreePaths, log *logrus.Entry) error {
	return rotate(paths, log, os.Rename)
}

func rotate(paths TreePaths, log *logrus.Entry, rename func(oldpath, newpath string) error) error {
	if !ffs.DirExists(paths.Working) {
		return errors.Errorf("working tree %s doesn't exist", paths.Working)
	}
	if err := ffs.EnsureParentExists(paths.Published); err != nil {
		return errors.Wrapf(err, "couldn't make parent directory of %s", paths.Published)
	}
	if err := ffs.EnsureParentExists(paths.Previous); err != nil {
		return errors.Wrapf(err, "couldn't make parent directory of %s", paths.Previous)
	}

	if ffs.Exists(paths.Previous) {
		log.Debugf("removing old previous tree %s", paths.Previous)
		if err := os.RemoveAll(paths.Previous); err != nil {
			return errors.Wrapf(err, "couldn't remove old previous tree %s", paths.Previous)
		}
	}

	movedPublished := false
	if ffs.Exists(paths.Published) {
		if err := rename(paths.Published, paths.Previous); err != nil {
			return errors.Wrapf(
				err, "couldn't move published tree %s to %s", paths.Published, paths.Previous,
			)
		}
		movedPublished = true
	}

	if err := rename(paths.Working, paths.Published); err != nil {
		err = errors.Wrapf(
			err, "couldn't move working tree %s to %s", paths.Working, paths.Published,
		)
		if !movedPublished {
			return err
		}
		log.Errorf("%s; rolling back to %s", err, paths.Previous)
		if rerr := rename(paths.Previous, paths.Published); rerr != nil {
			log.Errorf(
				"couldn't roll back %s to %s, so %s is now missing: %s",
				paths.Previous, paths.Published, paths.Published, rerr,
			)
			return errors.Wrapf(err, "rollback also failed (%s)", rerr)
		}
		return errors.Wrap(err, "rolled back to the previous tree")
	}

	log.Infof("successfully released %s", paths.Published)
	return nil
}
