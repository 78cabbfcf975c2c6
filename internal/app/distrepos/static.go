package distrepos

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// DefaultStaticRepo is the repository whose static data is linked into the destination root.
const DefaultStaticRepo = "osg"

// LinkStaticData maintains a symlink in `<dest_root>/<repo>` to each top-level entry of
// `<static_root>/<repo>`. Dangling symlinks into the static data are removed and wrong symlinks
// are replaced, but a non-symlink file in the way of a symlink is an error. Nothing is done if no
// static root is configured.
func LinkStaticData(options Options, repo string, log *logrus.Entry) error {
	if options.StaticRoot == "" {
		return nil
	}
	if !filepath.IsAbs(options.StaticRoot) {
		return errors.Errorf("static data path must be absolute, got %s", options.StaticRoot)
	}
	staticDir := filepath.Join(options.StaticRoot, repo)
	dataDir := filepath.Join(options.DestRoot, repo)
	if !ffs.DirExists(staticDir) {
		return errors.Errorf("static data path %s does not exist", staticDir)
	}
	if err := ffs.EnsureExists(dataDir); err != nil {
		return errors.Wrapf(err, "couldn't make directory %s", dataDir)
	}

	if err := removeDecayedLinks(dataDir, staticDir, log); err != nil {
		return err
	}

	entries, err := os.ReadDir(staticDir)
	if err != nil {
		return errors.Wrapf(err, "couldn't list static data in %s", staticDir)
	}
	for _, entry := range entries {
		target := filepath.Join(staticDir, entry.Name())
		linkPath := filepath.Join(dataDir, entry.Name())
		info, err := os.Lstat(linkPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return errors.Wrapf(err, "couldn't check %s", linkPath)
		case info.Mode()&os.ModeSymlink == 0:
			return errors.Errorf("expected static data symlink %s is not a symlink", linkPath)
		default:
			current, err := os.Readlink(linkPath)
			if err != nil {
				return errors.Wrapf(err, "couldn't read symlink %s", linkPath)
			}
			if current == target {
				continue
			}
			log.Infof("replacing static data symlink %s -> %s", linkPath, current)
			if err = os.Remove(linkPath); err != nil {
				return errors.Wrapf(err, "couldn't remove symlink %s", linkPath)
			}
		}
		if err := os.Symlink(target, linkPath); err != nil {
			return errors.Wrapf(err, "couldn't link %s to %s", linkPath, target)
		}
		log.Debugf("linked static data %s -> %s", linkPath, target)
	}
	return nil
}

// removeDecayedLinks removes symlinks in dataDir which point to missing files in staticDir.
func removeDecayedLinks(dataDir, staticDir string, log *logrus.Entry) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return errors.Wrapf(err, "couldn't list %s", dataDir)
	}
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		linkPath := filepath.Join(dataDir, entry.Name())
		target, err := os.Readlink(linkPath)
		if err != nil {
			return errors.Wrapf(err, "couldn't read symlink %s", linkPath)
		}
		if !strings.HasPrefix(target, staticDir+string(filepath.Separator)) || ffs.Exists(target) {
			continue
		}
		log.Infof("removing decayed static data symlink %s -> %s", linkPath, target)
		if err = os.Remove(linkPath); err != nil {
			return errors.Wrapf(err, "couldn't remove symlink %s", linkPath)
		}
	}
	return nil
}
