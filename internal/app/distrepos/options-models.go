package distrepos

import (
	"fmt"
	"path"
	"time"

	"github.com/pkg/errors"
)

// ActionType names one of the things a run can do.
type ActionType string

const (
	ActionRsync  ActionType = "rsync"
	ActionMirror ActionType = "mirror"
	ActionCadist ActionType = "cadist"
)

// DefaultActions are the actions run when none are requested explicitly.
var DefaultActions = []ActionType{ActionRsync, ActionMirror}

// ParseActions converts action names into ActionTypes, dropping duplicates and keeping order. An
// empty list yields DefaultActions.
func ParseActions(names []string) ([]ActionType, error) {
	if len(names) == 0 {
		return DefaultActions, nil
	}
	actions := make([]ActionType, 0, len(names))
	seen := make(map[ActionType]bool)
	for _, name := range names {
		action := ActionType(name)
		switch action {
		case ActionRsync, ActionMirror, ActionCadist:
		default:
			return nil, newConfigError("unknown action %q", name)
		}
		if seen[action] {
			continue
		}
		seen[action] = true
		actions = append(actions, action)
	}
	return actions, nil
}

func hasAction(actions []ActionType, action ActionType) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// Default locations and timeouts
const (
	DefaultDestRoot    = "/data/repo"
	DefaultLockDir     = "/var/lock/rsync_dist_repo"
	DefaultKojiRsync   = "rsync://kojihub2000.chtc.wisc.edu/repos-dist"
	DefaultCondorRsync = "rsync://rsync.cs.wisc.edu/htcondor"

	DefaultTransferTimeout = 6 * time.Hour
	DefaultListTimeout     = 180 * time.Second
	DefaultMirrorTimeout   = 10 * time.Second
	DefaultMirrorMaxAge    = 24 * time.Hour
)

// Options holds the global settings for a run.
type Options struct {
	// DestRoot is the root of the published repository trees.
	DestRoot string
	// WorkingRoot is the root under which the working trees are built.
	WorkingRoot string
	// PreviousRoot is the root under which the previously-published trees are kept.
	PreviousRoot string
	// KojiRsync is the base rsync URL of the build system's repositories.
	KojiRsync string
	// CondorRsync is the base rsync URL of the HTCondor repositories.
	CondorRsync string
	// LockDir is the directory for lock files; an empty string disables locking.
	LockDir string

	// MirrorRoot is the root of the published mirror lists; empty when mirror lists are not
	// maintained.
	MirrorRoot        string
	MirrorWorkingRoot string
	MirrorPrevRoot    string
	// MirrorHosts are the candidate mirror host URLs.
	MirrorHosts []string
	// MirrorBaselineHosts are the canonical hosts which are always candidates. If nil, they are
	// chosen based on the name of the machine running the program.
	MirrorBaselineHosts []string

	// StaticRoot is the root of the static data to link into DestRoot; empty when unused.
	StaticRoot string
	// CadistCommand is the command (and arguments) run for the cadist action.
	CadistCommand []string

	TransferTimeout time.Duration
	ListTimeout     time.Duration
	MirrorTimeout   time.Duration
	MirrorMaxAge    time.Duration
}

// DefaultOptions returns the options used for settings not set in the config file.
func DefaultOptions() Options {
	return Options{
		DestRoot:        DefaultDestRoot,
		WorkingRoot:     DefaultDestRoot + ".working",
		PreviousRoot:    DefaultDestRoot + ".previous",
		KojiRsync:       DefaultKojiRsync,
		CondorRsync:     DefaultCondorRsync,
		LockDir:         DefaultLockDir,
		TransferTimeout: DefaultTransferTimeout,
		ListTimeout:     DefaultListTimeout,
		MirrorTimeout:   DefaultMirrorTimeout,
		MirrorMaxAge:    DefaultMirrorMaxAge,
	}
}

// Validate checks that the options needed by the requested actions are set.
func (o Options) Validate(actions []ActionType) error {
	if o.DestRoot == "" || o.WorkingRoot == "" || o.PreviousRoot == "" {
		return newConfigError("dest_root, working_root and previous_root must all be set")
	}
	if o.DestRoot == o.WorkingRoot || o.DestRoot == o.PreviousRoot ||
		o.WorkingRoot == o.PreviousRoot {
		return newConfigError(
			"dest_root %s, working_root %s and previous_root %s must be distinct",
			o.DestRoot, o.WorkingRoot, o.PreviousRoot,
		)
	}
	if hasAction(actions, ActionMirror) && o.MirrorRoot == "" {
		return newConfigError("the mirror action requires mirror_root to be set")
	}
	if hasAction(actions, ActionCadist) && len(o.CadistCommand) == 0 {
		return newConfigError("the cadist action requires cadist_command to be set")
	}
	return nil
}

// TreePaths are the three sibling paths involved in publishing a tree.
type TreePaths struct {
	Published string
	Working   string
	Previous  string
}

func (p TreePaths) String() string {
	return fmt.Sprintf("%s (working %s, previous %s)", p.Published, p.Working, p.Previous)
}

// TagPaths returns the paths of the repository trees of the tag.
func (o Options) TagPaths(tag Tag) TreePaths {
	return TreePaths{
		Published: path.Join(o.DestRoot, tag.Dest),
		Working:   path.Join(o.WorkingRoot, tag.Dest),
		Previous:  path.Join(o.PreviousRoot, tag.Dest),
	}
}

// MirrorPaths returns the paths of the mirror list trees of the tag.
func (o Options) MirrorPaths(tag Tag) (TreePaths, error) {
	if o.MirrorRoot == "" {
		return TreePaths{}, errors.New("mirror_root is not set")
	}
	return TreePaths{
		Published: path.Join(o.MirrorRoot, tag.Dest),
		Working:   path.Join(o.MirrorWorkingRoot, tag.Dest),
		Previous:  path.Join(o.MirrorPrevRoot, tag.Dest),
	}, nil
}
