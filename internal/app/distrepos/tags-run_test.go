package distrepos

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/osg-htc/distrepos/internal/clients/proc"
	"github.com/osg-htc/distrepos/internal/clients/rsync"
	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// fakeRsync serves rsync URLs from a local directory: `rsync://host/path` is read from
// `<root>/host/path`.
type fakeRsync struct {
	root   string
	latest string
	// startErr, if set, is returned for every transfer as if rsync couldn't be run.
	startErr error
	// exitCodes forces the exit code of transfers whose source ends with a key.
	exitCodes map[string]int

	mu        sync.Mutex
	transfers []string
	listed    []string
}

func (f *fakeRsync) localPath(url string) string {
	return filepath.Join(f.root, filepath.FromSlash(strings.TrimPrefix(url, "rsync://")))
}

func exitResult(code int) rsync.Result {
	status := rsync.StatusOK
	switch code {
	case rsync.ExitOK:
	case rsync.ExitNotFound:
		status = rsync.StatusNotFound
	default:
		status = rsync.StatusFailed
	}
	return rsync.Result{Result: proc.Result{ExitCode: code}, Status: status}
}

func (f *fakeRsync) Transfer(
	_ context.Context, source, dest string, opts rsync.TransferOptions,
) (rsync.Result, error) {
	f.mu.Lock()
	f.transfers = append(f.transfers, source)
	f.mu.Unlock()
	if f.startErr != nil {
		return rsync.Result{Status: rsync.StatusFailed}, f.startErr
	}
	for suffix, code := range f.exitCodes {
		if strings.HasSuffix(source, suffix) {
			return exitResult(code), nil
		}
	}

	src := f.localPath(source)
	if strings.HasSuffix(source, "*.rpm") {
		matches, err := filepath.Glob(src)
		if err != nil || len(matches) == 0 {
			return exitResult(rsync.ExitNotFound), nil
		}
		for _, match := range matches {
			if err := copyFile(match, filepath.Join(dest, filepath.Base(match))); err != nil {
				return exitResult(11), nil
			}
		}
		return exitResult(rsync.ExitOK), nil
	}

	if !ffs.DirExists(src) {
		return exitResult(rsync.ExitNotFound), nil
	}
	if opts.Delete {
		if err := os.RemoveAll(dest); err != nil {
			return exitResult(11), nil
		}
	}
	if err := copyTree(src, dest); err != nil {
		return exitResult(11), nil
	}
	return exitResult(rsync.ExitOK), nil
}

func (f *fakeRsync) ResolveLatest(_ context.Context, baseURL, tagDir string) (string, error) {
	if !ffs.DirExists(filepath.Join(f.localPath(baseURL), tagDir, f.latest)) {
		return "", rsync.ErrLatestNotFound
	}
	return f.latest, nil
}

func (f *fakeRsync) CheckListing(_ context.Context, root string) error {
	f.mu.Lock()
	f.listed = append(f.listed, root)
	f.mu.Unlock()
	if !ffs.DirExists(f.localPath(root)) {
		return errors.Errorf("couldn't list %s", root)
	}
	return nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err = ffs.EnsureParentExists(dest); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, filePath)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return ffs.EnsureExists(filepath.Join(dest, rel))
		}
		return copyFile(filePath, filepath.Join(dest, rel))
	})
}

// fakeMetadata writes a placeholder repomd.xml for every directory it's asked to index.
type fakeMetadata struct {
	failDir string

	mu   sync.Mutex
	dirs []string
}

func (f *fakeMetadata) Generate(_ context.Context, dir, pkglist string) error {
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	if dir == f.failDir {
		return errors.Errorf("createrepo_c exited with code 1 for %s", dir)
	}
	if !ffs.Exists(pkglist) {
		return errors.Errorf("pkglist %s doesn't exist", pkglist)
	}
	repomd := filepath.Join(dir, "repodata", "repomd.xml")
	if err := ffs.EnsureParentExists(repomd); err != nil {
		return err
	}
	return ffs.WriteFileAtomic(repomd, []byte("<repomd/>\n"))
}

type tagFixture struct {
	options  Options
	tag      Tag
	rsync    *fakeRsync
	metadata *fakeMetadata
	runner   *TagRunner
}

func newTagFixture(t *testing.T) *tagFixture {
	t.Helper()
	root := t.TempDir()
	upstream := filepath.Join(root, "upstream")
	touchFiles(
		t, upstream,
		"koji/repos-dist/osg-23-main-el9/20240102T0304/src/Packages/f/foo-1.0-1.src.rpm",
		"koji/repos-dist/osg-23-main-el9/20240102T0304/x86_64/Packages/f/foo-1.0-1.x86_64.rpm",
		"koji/repos-dist/osg-23-main-el9/20240102T0304/x86_64/Packages/f/"+
			"foo-debuginfo-1.0-1.x86_64.rpm",
		"condor/htcondor/23.0/el9/x86_64/release/condor-23.0.0-1.x86_64.rpm",
		"condor/htcondor/23.0/el9/x86_64/release/SRPMS/condor-23.0.0-1.src.rpm",
	)

	options := DefaultOptions()
	options.DestRoot = filepath.Join(root, "repo")
	options.WorkingRoot = filepath.Join(root, "repo.working")
	options.PreviousRoot = filepath.Join(root, "repo.previous")
	options.LockDir = filepath.Join(root, "locks")
	options.KojiRsync = "rsync://koji/repos-dist"
	options.CondorRsync = "rsync://condor/htcondor"

	tag, err := NewTag(
		"osg-23-main-el9", "", "osg/23-main/el9/release", []string{"x86_64"},
		[]SrcDst{{Src: "23.0/el9/$ARCH/release", Dst: "condor"}},
		TagSubdirs{ArchRPMs: "$ARCH/Packages", SourceRPMs: "src/Packages"},
	)
	if err != nil {
		t.Fatal(err)
	}

	fixture := &tagFixture{
		options:  options,
		tag:      tag,
		rsync:    &fakeRsync{root: upstream, latest: "20240102T0304"},
		metadata: &fakeMetadata{},
	}
	fixture.runner = &TagRunner{
		Options:  options,
		Rsync:    fixture.rsync,
		Metadata: fixture.metadata,
		Log:      testLog(),
	}
	return fixture
}

// treeFiles lists the paths of the files and symlinks under root, relative to root.
func treeFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	if err := filepath.WalkDir(root, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, filePath)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	}); err != nil {
		t.Fatalf("couldn't list files in %s: %s", root, err)
	}
	return files
}

func TestRunTag(t *testing.T) {
	t.Parallel()
	f := newTagFixture(t)
	paths := f.options.TagPaths(f.tag)

	if err := f.runner.RunTag(context.Background(), f.tag); err != nil {
		t.Fatalf("first run failed: %s", err)
	}
	firstRelease := treeFiles(t, paths.Published)
	if err := f.runner.RunTag(context.Background(), f.tag); err != nil {
		t.Fatalf("second run failed: %s", err)
	}
	if diff := cmp.Diff(firstRelease, treeFiles(t, paths.Published)); diff != "" {
		t.Errorf("published tree changed between runs: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(firstRelease, treeFiles(t, paths.Previous)); diff != "" {
		t.Errorf("previous tree isn't the first release: diff (-want +got):\n%s", diff)
	}

	pkglists := map[string][]string{
		"src/pkglist": {
			"Packages/condor/condor-23.0.0-1.src.rpm",
			"Packages/f/foo-1.0-1.src.rpm",
		},
		"x86_64/pkglist": {
			"Packages/condor/condor-23.0.0-1.x86_64.rpm",
			"Packages/f/foo-1.0-1.x86_64.rpm",
		},
		"x86_64/debug/pkglist": {"../Packages/f/foo-debuginfo-1.0-1.x86_64.rpm"},
	}
	for _, tree := range []string{paths.Published, paths.Previous} {
		for relPath, want := range pkglists {
			got := readPkglist(t, filepath.Join(tree, filepath.FromSlash(relPath)))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("unexpected entries in %s of %s: diff (-want +got):\n%s", relPath, tree, diff)
			}
		}
		for _, dir := range []string{"src", "x86_64", "x86_64/debug"} {
			repomd := filepath.Join(tree, filepath.FromSlash(dir), "repodata", "repomd.xml")
			if !ffs.Exists(repomd) {
				t.Errorf("metadata %s wasn't generated", repomd)
			}
		}
		target, err := os.Readlink(filepath.Join(tree, "source", "SRPMS"))
		if err != nil {
			t.Errorf("couldn't read compat symlink: %s", err)
		} else if target != "../src" {
			t.Errorf("compat symlink points to %s, want ../src", target)
		}
	}
	if ffs.Exists(paths.Working) {
		t.Errorf("working tree %s still exists", paths.Working)
	}
	if ffs.Exists(filepath.Join(f.options.LockDir, f.tag.Name)) {
		t.Error("tag lock wasn't released")
	}

	wantTransfers := []string{
		"rsync://koji/repos-dist/osg-23-main-el9/20240102T0304/",
		"rsync://condor/htcondor/23.0/el9/x86_64/release/*.rpm",
		"rsync://condor/htcondor/23.0/el9/x86_64/release/debug/*.rpm",
		"rsync://condor/htcondor/23.0/el9/x86_64/release/SRPMS/*.rpm",
	}
	if diff := cmp.Diff(append(wantTransfers, wantTransfers...), f.rsync.transfers); diff != "" {
		t.Errorf("unexpected transfers: diff (-want +got):\n%s", diff)
	}
}

func TestRunTagLockHeld(t *testing.T) {
	t.Parallel()
	f := newTagFixture(t)
	lock, err := AcquireLock(filepath.Join(f.options.LockDir, f.tag.Name))
	if err != nil || lock == nil {
		t.Fatalf("couldn't acquire lock: %v", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			t.Error(err)
		}
	}()

	err = f.runner.RunTag(context.Background(), f.tag)
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
	if IsFatal(err) {
		t.Error("lock contention was reported as fatal")
	}
	if len(f.rsync.transfers) > 0 {
		t.Errorf("transfers happened without the lock: %v", f.rsync.transfers)
	}
}

func TestRunTagFailures(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		setup   func(f *tagFixture)
		fatal   bool
		wantErr string
	}{
		"latest-not-found": {
			setup: func(f *tagFixture) { f.rsync.latest = "missing" },
		},
		"rsync-unavailable": {
			setup: func(f *tagFixture) {
				f.rsync.startErr = errors.Wrap(exec.ErrNotFound, "couldn't run rsync")
			},
			fatal: true,
		},
		"rsync-start-failure": {
			setup: func(f *tagFixture) {
				f.rsync.startErr = errors.New("fork/exec rsync: resource temporarily unavailable")
			},
		},
		"canceled": {
			setup: func(f *tagFixture) {
				f.rsync.startErr = errors.Wrap(context.Canceled, "rsync did not finish")
			},
		},
		"createrepo-failure": {
			setup: func(f *tagFixture) {
				f.metadata.failDir = filepath.Join(f.options.TagPaths(f.tag).Working, "x86_64")
			},
			wantErr: "release/x86_64",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newTagFixture(t)
			tc.setup(f)
			err := f.runner.RunTag(context.Background(), f.tag)
			if err == nil {
				t.Fatal("tag run succeeded")
			}
			if IsFatal(err) != tc.fatal {
				t.Errorf("IsFatal(%v) = %t, want %t", err, !tc.fatal, tc.fatal)
			}
			if tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q doesn't mention %s", err, tc.wantErr)
			}
			if ffs.Exists(f.options.TagPaths(f.tag).Published) {
				t.Error("failed tag run published a tree")
			}
		})
	}
}

func TestRunTagCondorTransfers(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		suffix  string
		code    int
		wantErr bool
	}{
		"debug-not-found": {
			suffix: "release/debug/*.rpm",
			code:   rsync.ExitNotFound,
		},
		"debug-failure": {
			suffix:  "release/debug/*.rpm",
			code:    12,
			wantErr: true,
		},
		"binary-not-found": {
			suffix:  "release/*.rpm",
			code:    rsync.ExitNotFound,
			wantErr: true,
		},
		"source-not-found": {
			suffix:  "release/SRPMS/*.rpm",
			code:    rsync.ExitNotFound,
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newTagFixture(t)
			f.rsync.exitCodes = map[string]int{tc.suffix: tc.code}
			err := f.runner.RunTag(context.Background(), f.tag)
			if (err != nil) != tc.wantErr {
				t.Fatalf("RunTag() error = %v, want error: %t", err, tc.wantErr)
			}
			if IsFatal(err) {
				t.Errorf("condor transfer failure was reported as fatal: %s", err)
			}
			published := ffs.Exists(f.options.TagPaths(f.tag).Published)
			if published == tc.wantErr {
				t.Errorf("published = %t after RunTag() error %v", published, err)
			}
		})
	}
}
