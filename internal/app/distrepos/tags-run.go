package distrepos

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/osg-htc/distrepos/internal/clients/createrepo"
	"github.com/osg-htc/distrepos/internal/clients/proc"
	"github.com/osg-htc/distrepos/internal/clients/rsync"
	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// Transferer copies trees and files from remote rsync endpoints.
type Transferer interface {
	Transfer(
		ctx context.Context, source, dest string, opts rsync.TransferOptions,
	) (rsync.Result, error)
	ResolveLatest(ctx context.Context, baseURL, tagDir string) (string, error)
	CheckListing(ctx context.Context, root string) error
}

// MetadataGenerator generates repository metadata for a directory of packages.
type MetadataGenerator interface {
	Generate(ctx context.Context, dir, pkglist string) error
}

// NewRsyncClient makes an rsync client using the timeouts from the options.
func NewRsyncClient(options Options, log *logrus.Entry) *rsync.Client {
	client := rsync.NewClient(log)
	if options.TransferTimeout > 0 {
		client.TransferTimeout = options.TransferTimeout
	}
	if options.ListTimeout > 0 {
		client.ListTimeout = options.ListTimeout
		client.LatestTimeout = options.ListTimeout
	}
	return client
}

// TagRunner builds and publishes the repositories of tags.
type TagRunner struct {
	Options  Options
	Rsync    Transferer
	Metadata MetadataGenerator
	Log      *logrus.Entry
}

func NewTagRunner(options Options, log *logrus.Entry) *TagRunner {
	return &TagRunner{
		Options:  options,
		Rsync:    NewRsyncClient(options, log),
		Metadata: createrepo.NewClient(log),
		Log:      log,
	}
}

// RunTag builds the tag's repository in its working tree and then publishes it, while holding the
// tag's lock. A returned error for which IsFatal is true should abort the whole run; any other
// error only means that the tag failed.
func (r *TagRunner) RunTag(ctx context.Context, tag Tag) error {
	log := r.Log.WithField("tag", tag.Name)
	paths := r.Options.TagPaths(tag)
	if err := ffs.EnsureExists(paths.Working); err != nil {
		return errors.Wrapf(err, "couldn't create working dir %s", paths.Working)
	}
	return WithLock(r.Options.LockDir, tag.Name, log, func() error {
		return r.runLocked(ctx, tag, paths, log)
	})
}

func (r *TagRunner) runLocked(
	ctx context.Context, tag Tag, paths TreePaths, log *logrus.Entry,
) error {
	latest, err := r.Rsync.ResolveLatest(ctx, r.Options.KojiRsync, tag.Source)
	if err != nil {
		return errors.Wrapf(err, "couldn't resolve the latest build of %s", tag.Source)
	}
	log.Debugf("latest build of %s is %s", tag.Source, latest)

	sourceURL := fmt.Sprintf("%s/%s/%s/", r.Options.KojiRsync, tag.Source, latest)
	if err = r.transfer(
		ctx, log, fmt.Sprintf("rsync from %s to %s", sourceURL, paths.Working),
		sourceURL, paths.Working, rsync.MirrorTree(paths.Published), false,
	); err != nil {
		return err
	}
	if err = r.pullCondorRepos(ctx, tag, log); err != nil {
		return errors.Wrap(err, "error pulling condor repos")
	}
	if err = UpdatePkglists(paths.Working, tag.Arches, log); err != nil {
		return err
	}
	if err = r.generateMetadata(ctx, paths.Working, tag.Arches, log); err != nil {
		return err
	}
	if err = createCompatSymlink(paths.Working, log); err != nil {
		return err
	}
	return errors.Wrapf(Rotate(paths, log), "error updating release repos at %s", paths.Published)
}

// transfer runs rsync, converting its outcome into an error. A missing or unexecutable rsync
// binary is fatal; any other error, a timeout, or an unsuccessful exit code is only a failure of
// the tag.
func (r *TagRunner) transfer(
	ctx context.Context, log *logrus.Entry, description, source, dest string,
	opts rsync.TransferOptions, notFoundOK bool,
) error {
	res, err := r.Rsync.Transfer(ctx, source, dest, opts)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(err, "timeout during %s", description)
	case isMissingProgram(err):
		return newRsyncError(err, description)
	default:
		return errors.Wrapf(err, "error with %s", description)
	}
	if !rsync.LogResult(log, res, proc.DefaultLogOptions(description), notFoundOK) {
		return errors.Errorf("error with %s (exit code %d)", description, res.ExitCode)
	}
	log.Infof("%s ok", description)
	return nil
}

// isMissingProgram reports whether the error means that a program can't be run at all.
func isMissingProgram(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

type condorTransfer struct {
	description string
	source      string
	destSubdir  string
	notFoundOK  bool
}

// pullCondorRepos merges the RPMs of the tag's HTCondor repositories into the tag's working tree.
// Transfers are non-recursive so that source RPMs in the SRPMS subdirectory can be put elsewhere;
// source RPMs are the same for every architecture, so they're only pulled with the first one.
func (r *TagRunner) pullCondorRepos(ctx context.Context, tag Tag, log *logrus.Entry) error {
	for i, arch := range tag.Arches {
		for _, repo := range tag.CondorRepos {
			archSource := expandArch(fmt.Sprintf("%s/%s/", r.Options.CondorRsync, repo.Src), arch)
			transfers := []condorTransfer{
				{
					description: fmt.Sprintf("rsync from condor repo for %s RPMs", arch),
					source:      archSource + "*.rpm",
					destSubdir:  path.Join(tag.ArchDest(arch), repo.Dst),
				},
				{
					// debug RPMs may not exist
					description: fmt.Sprintf("rsync from condor repo for %s debug RPMs", arch),
					source:      archSource + "debug/*.rpm",
					destSubdir:  path.Join(tag.DebugDest(arch), repo.Dst),
					notFoundOK:  true,
				},
			}
			if i == 0 {
				transfers = append(transfers, condorTransfer{
					description: "rsync from condor repo for source RPMs",
					source:      archSource + "SRPMS/*.rpm",
					destSubdir:  path.Join(tag.SourceRPMsDest, repo.Dst),
				})
			}

			for _, t := range transfers {
				dest := path.Join(r.Options.WorkingRoot, t.destSubdir)
				if err := ffs.EnsureExists(dest); err != nil {
					return errors.Wrapf(err, "couldn't make directory %s", dest)
				}
				if err := r.transfer(
					ctx, log, t.description, t.source, dest+"/",
					rsync.MergeFiles(path.Join(r.Options.DestRoot, t.destSubdir)), t.notFoundOK,
				); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// generateMetadata generates the repository metadata for the source RPMs, and for the binary and
// debug RPMs of each architecture.
func (r *TagRunner) generateMetadata(
	ctx context.Context, treePath string, arches []string, log *logrus.Entry,
) error {
	dirs := []string{filepath.Join(treePath, srcDirName)}
	for _, arch := range arches {
		archDir := filepath.Join(treePath, arch)
		dirs = append(dirs, archDir)
		if debugDir := filepath.Join(archDir, debugDirName); ffs.DirExists(debugDir) {
			dirs = append(dirs, debugDir)
		}
	}
	for _, dir := range dirs {
		if err := r.Metadata.Generate(ctx, dir, filepath.Join(dir, pkglistFileName)); err != nil {
			return errors.Wrapf(err, "error running createrepo on %s", dir)
		}
		log.Infof("running createrepo on %s ok", dir)
	}
	return nil
}

// createCompatSymlink makes `source/SRPMS` a relative symlink to `src`, for clients which expect
// the older repository layout.
func createCompatSymlink(treePath string, log *logrus.Entry) error {
	sourceDir := filepath.Join(treePath, "source")
	if err := ffs.EnsureExists(sourceDir); err != nil {
		return errors.Wrap(err, "error creating SRPM compat symlink")
	}
	linkPath := filepath.Join(sourceDir, "SRPMS")
	if ffs.Exists(linkPath) {
		if err := os.RemoveAll(linkPath); err != nil {
			return errors.Wrapf(err, "error creating SRPM compat symlink: couldn't remove %s", linkPath)
		}
	}
	if err := os.Symlink("../"+srcDirName, linkPath); err != nil {
		return errors.Wrap(err, "error creating SRPM compat symlink")
	}
	log.Info("creating SRPM compat symlink ok")
	return nil
}
