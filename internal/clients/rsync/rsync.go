// Package rsync wraps the rsync program for pulling repository trees from remote endpoints.
package rsync

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/osg-htc/distrepos/internal/clients/proc"
	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

const (
	ExitOK = 0
	// ExitNotFound is rsync's exit code for a partial transfer, which is what it reports when the
	// source path does not exist on the remote side.
	ExitNotFound = 23
)

const (
	DefaultBinary          = "rsync"
	DefaultListTimeout     = 180 * time.Second
	DefaultLatestTimeout   = 180 * time.Second
	DefaultTransferTimeout = 6 * time.Hour
)

// ErrLatestNotFound is returned by ResolveLatest when the remote side has no "latest" symlink.
var ErrLatestNotFound = errors.New(
	"'latest' dir not found; dist-repo may not have been run for this tag",
)

// Status classifies the outcome of an rsync invocation.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "source not found"
	default:
		return "failed"
	}
}

func classify(exitCode int) Status {
	switch exitCode {
	case ExitOK:
		return StatusOK
	case ExitNotFound:
		return StatusNotFound
	default:
		return StatusFailed
	}
}

// Result is the outcome of an rsync invocation which ran to completion.
type Result struct {
	proc.Result
	Status Status
	Stats  Stats
}

// TransferOptions controls a Transfer.
type TransferOptions struct {
	// LinkDest is a reference tree; unchanged files are hard-linked from it instead of being
	// transferred. It is ignored if it does not exist.
	LinkDest  string
	Recursive bool
	Delete    bool
}

// MirrorTree returns the options for mirroring a whole remote tree, linking against linkDest.
func MirrorTree(linkDest string) TransferOptions {
	return TransferOptions{LinkDest: linkDest, Recursive: true, Delete: true}
}

// MergeFiles returns the options for merging a flat set of remote files into an existing
// directory without deleting anything already there.
func MergeFiles(linkDest string) TransferOptions {
	return TransferOptions{LinkDest: linkDest}
}

type Client struct {
	Binary          string
	ListTimeout     time.Duration
	LatestTimeout   time.Duration
	TransferTimeout time.Duration
	Log             *logrus.Entry
}

func NewClient(log *logrus.Entry) *Client {
	return &Client{
		Binary:          DefaultBinary,
		ListTimeout:     DefaultListTimeout,
		LatestTimeout:   DefaultLatestTimeout,
		TransferTimeout: DefaultTransferTimeout,
		Log:             log,
	}
}

// Run runs rsync with the provided arguments under the provided timeout (if it's positive). An
// error is returned only if rsync couldn't be started or didn't finish in time.
func (c *Client) Run(ctx context.Context, timeout time.Duration, args ...string) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c.Log.Debugf("running %s %q", c.Binary, args)
	res, err := proc.Run(ctx, c.Binary, args...)
	if err != nil {
		return Result{Result: res, Status: StatusFailed}, err
	}
	return Result{Result: res, Status: classify(res.ExitCode), Stats: ParseStats(res.Stdout)}, nil
}

// TransferArgs builds the rsync arguments for a Transfer.
func TransferArgs(source, dest string, opts TransferOptions) []string {
	args := []string{"--times", "--stats"}
	if opts.Delete {
		args = append(args, "--delete")
	}
	if opts.Recursive {
		args = append(args, "--recursive")
	} else if opts.Delete {
		// rsync refuses --delete unless either --recursive or --dirs is also given
		args = append(args, "--dirs")
	}
	if opts.LinkDest != "" && ffs.Exists(opts.LinkDest) {
		args = append(args, "--link-dest="+opts.LinkDest)
	}
	return append(args, source, dest)
}

// Transfer copies the source URL to the destination path.
func (c *Client) Transfer(
	ctx context.Context, source, dest string, opts TransferOptions,
) (Result, error) {
	return c.Run(ctx, c.TransferTimeout, TransferArgs(source, dest, opts)...)
}

// CheckListing lists the root of an rsync endpoint, to check that the endpoint is reachable.
func (c *Client) CheckListing(ctx context.Context, root string) error {
	description := "rsync endpoint " + root + " directory listing"
	res, err := c.Run(ctx, c.ListTimeout, "--list-only", root)
	if err != nil {
		return errors.Wrap(err, description)
	}
	if !LogResult(c.Log, res, proc.DefaultLogOptions(description), false) {
		return errors.Errorf("%s failed with exit code %d", description, res.ExitCode)
	}
	return nil
}

// ResolveLatest determines the name of the snapshot directory which the "latest" symlink in the
// tag's directory on the remote endpoint points to. The symlink itself is copied into a scratch
// directory and read there, since the remote symlink may change while we're using it.
func (c *Client) ResolveLatest(ctx context.Context, baseURL, tagDir string) (string, error) {
	scratch, err := os.MkdirTemp("", "distrepos-latest-")
	if err != nil {
		return "", errors.Wrap(err, "couldn't make a scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			c.Log.Warnf("couldn't remove scratch directory %s: %s", scratch, err)
		}
	}()

	destPath := filepath.Join(scratch, "latest")
	res, err := c.Run(ctx, c.LatestTimeout, "-l", baseURL+"/"+tagDir+"/latest", destPath)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", errors.Wrap(err, "timeout getting 'latest' dir")
	}
	if err != nil {
		return "", err
	}
	LogResult(c.Log, res, proc.DefaultLogOptions("getting 'latest' dir symlink"), false)
	switch res.Status {
	case StatusOK:
	case StatusNotFound:
		return "", ErrLatestNotFound
	default:
		return "", errors.Errorf("error getting 'latest' dir (exit code %d)", res.ExitCode)
	}

	// We copied the symlink as a (now dangling) symlink; its text names the remote directory.
	target, err := os.Readlink(destPath)
	if err != nil {
		return "", errors.Wrapf(err, "couldn't read the copied 'latest' symlink at %s", destPath)
	}
	return filepath.Base(target), nil
}

// LogResult logs the result of an rsync invocation, including its transfer statistics on success.
// If notFoundOK is set, a missing source is also considered acceptable.
func LogResult(log *logrus.Entry, res Result, opts proc.LogOptions, notFoundOK bool) bool {
	opts.OKExit = []int{ExitOK}
	if notFoundOK {
		opts.OKExit = append(opts.OKExit, ExitNotFound)
	}
	ok := proc.LogResult(log, res.Result, opts)
	if ok && res.Status == StatusOK && res.Stats.Parsed {
		log.Debugf("%s: %s", opts.Description, res.Stats)
	}
	return ok
}
