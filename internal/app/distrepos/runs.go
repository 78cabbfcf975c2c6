package distrepos

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/osg-htc/distrepos/internal/clients/proc"
	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// TimestampFileName is the name of the file in the destination root recording the time of the
// last fully-successful run.
const TimestampFileName = "timestamp.txt"

// Result is the outcome of one unit of work in a run.
type Result struct {
	Action ActionType
	Name   string
	Err    error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Report collects the results of a run.
type Report struct {
	Results []Result
}

func (r *Report) record(action ActionType, name string, err error) {
	r.Results = append(r.Results, Result{Action: action, Name: name, Err: err})
}

func (r Report) Succeeded() []Result {
	var results []Result
	for _, result := range r.Results {
		if result.OK() {
			results = append(results, result)
		}
	}
	return results
}

func (r Report) Failed() []Result {
	var results []Result
	for _, result := range r.Results {
		if !result.OK() {
			results = append(results, result)
		}
	}
	return results
}

// ExitCode returns the process exit code for the run: ExitFailures if anything failed, ExitEmpty
// if nothing was done, and 0 otherwise.
func (r Report) ExitCode() int {
	switch {
	case len(r.Failed()) > 0:
		return ExitFailures
	case len(r.Results) == 0:
		return ExitEmpty
	default:
		return 0
	}
}

// Run

// TagPipeline builds and publishes a tag's repository.
type TagPipeline interface {
	RunTag(ctx context.Context, tag Tag) error
}

// MirrorPipeline updates and publishes a tag's mirror lists.
type MirrorPipeline interface {
	UpdateMirrorsForTag(ctx context.Context, tag Tag) error
}

// Updater runs a shared update step.
type Updater interface {
	Run(ctx context.Context) error
}

// Driver runs the requested actions over the selected tags, strictly one after another.
type Driver struct {
	Options Options
	Tags    []Tag
	Actions []ActionType

	Rsync   Transferer
	Repos   TagPipeline
	Mirrors MirrorPipeline
	Cadist  Updater
	Clock   clockwork.Clock
	Log     *logrus.Entry
}

func NewDriver(options Options, tags []Tag, actions []ActionType, log *logrus.Entry) *Driver {
	tagRunner := NewTagRunner(options, log.WithField("action", ActionRsync))
	return &Driver{
		Options: options,
		Tags:    tags,
		Actions: actions,
		Rsync:   tagRunner.Rsync,
		Repos:   tagRunner,
		Mirrors: NewMirrorRunner(options, log.WithField("action", ActionMirror)),
		Cadist:  NewCadistRunner(options, log),
		Clock:   clockwork.NewRealClock(),
		Log:     log,
	}
}

// Run runs every requested action. An error is returned only for failures which abort the whole
// run; the failures of individual tags are recorded in the report.
func (d *Driver) Run(ctx context.Context) (report Report, err error) {
	d.Log.Info("program started")
	if hasAction(d.Actions, ActionRsync) {
		if err = d.runRsync(ctx, &report); err != nil {
			return report, err
		}
	}
	if hasAction(d.Actions, ActionMirror) {
		d.runMirrors(ctx, &report)
	}
	if hasAction(d.Actions, ActionCadist) {
		report.record(ActionCadist, string(ActionCadist), d.Cadist.Run(ctx))
	}
	d.Log.Info("----------------------------------------")
	d.Log.Info("run completed")

	if hasAction(d.Actions, ActionRsync) && report.ExitCode() == 0 {
		if err = d.writeTimestamp(); err != nil {
			d.Log.Error(err)
			report.record(ActionRsync, TimestampFileName, err)
		}
	}
	return report, nil
}

func (d *Driver) runRsync(ctx context.Context, report *Report) error {
	if err := d.Rsync.CheckListing(ctx, d.Options.KojiRsync); err != nil {
		return newRsyncError(err, "rsync dir listing from koji-hub failed, cannot continue")
	}
	d.Log.Infof("rsync check successful; starting run for %d tags", len(d.Tags))

	for _, tag := range d.Tags {
		log := d.Log.WithField("tag", tag.Name)
		log.Info("----------------------------------------")
		log.Infof("starting tag %s", tag.Name)
		if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			description := &strings.Builder{}
			FprintTag(0, description, tag, d.Options)
			proc.LogMultiline(log, logrus.DebugLevel, description.String())
		}
		err := d.Repos.RunTag(ctx, tag)
		if IsFatal(err) {
			return err
		}
		if err != nil {
			log.Errorf("tag %s failed: %s", tag.Name, err)
		} else {
			log.Infof("tag %s completed", tag.Name)
		}
		report.record(ActionRsync, tag.Name, err)
	}

	if d.Options.StaticRoot != "" {
		err := LinkStaticData(d.Options, DefaultStaticRepo, d.Log)
		if err != nil {
			d.Log.Errorf("couldn't link static data: %s", err)
		}
		report.record(ActionRsync, "static data", err)
	}
	return nil
}

// runMirrors updates the mirror lists of every tag while holding the mirrors lock. If the lock
// can't be acquired, every tag fails.
func (d *Driver) runMirrors(ctx context.Context, report *Report) {
	ran := false
	err := WithLock(d.Options.LockDir, "mirrors", d.Log, func() error {
		ran = true
		for _, tag := range d.Tags {
			log := d.Log.WithField("tag", tag.Name)
			log.Infof("updating mirror lists for tag %s", tag.Name)
			err := d.Mirrors.UpdateMirrorsForTag(ctx, tag)
			if err != nil {
				log.Errorf("mirror lists for tag %s failed: %s", tag.Name, err)
			}
			report.record(ActionMirror, tag.Name, err)
		}
		return nil
	})
	if err == nil || ran {
		return
	}
	d.Log.Errorf("couldn't update mirror lists: %s", err)
	for _, tag := range d.Tags {
		report.record(ActionMirror, tag.Name, err)
	}
}

func (d *Driver) writeTimestamp() error {
	timestampPath := filepath.Join(d.Options.DestRoot, TimestampFileName)
	if err := ffs.EnsureParentExists(timestampPath); err != nil {
		return errors.Wrapf(err, "couldn't make directory for %s", timestampPath)
	}
	contents := fmt.Sprintf("%d\n", d.Clock.Now().Unix())
	if err := ffs.WriteFileAtomic(timestampPath, []byte(contents)); err != nil {
		return errors.Wrapf(err, "couldn't write timestamp file %s", timestampPath)
	}
	d.Log.Debugf("wrote timestamp file %s", timestampPath)
	return nil
}

// LogSummary logs which parts of the run succeeded and which failed.
func (d *Driver) LogSummary(report Report) {
	if succeeded := report.Succeeded(); len(succeeded) > 0 {
		lines := make([]string, 0, len(succeeded))
		for _, result := range succeeded {
			lines = append(lines, fmt.Sprintf("  %s %s", result.Action, result.Name))
		}
		proc.LogMultiline(d.Log, logrus.InfoLevel, fmt.Sprintf(
			"%d succeeded:\n%s", len(succeeded), strings.Join(lines, "\n"),
		))
	}
	failed := report.Failed()
	if len(failed) > 0 {
		d.Log.Errorf("%d failed:", len(failed))
		for _, result := range failed {
			d.Log.Errorf("  %-6s %-40s: %s", result.Action, result.Name, result.Err)
		}
		return
	}
	if len(report.Results) == 0 {
		d.Log.Error("nothing was done")
	}
}
