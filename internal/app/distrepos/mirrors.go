package distrepos

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// Canonical repository hosts, which are always mirror candidates
const (
	ProductionBaselineHost = "repo.osg-htc.org"
	StagingBaselineHost    = "repo-itb.osg-htc.org"
)

// BaselineHosts returns the canonical hosts for a machine with the provided hostname: machines
// whose names contain "-itb" are staging machines.
func BaselineHosts(hostname string) []string {
	if strings.Contains(hostname, "-itb") {
		return []string{StagingBaselineHost}
	}
	return []string{ProductionBaselineHost}
}

// hostURL adds an https scheme to a host if it doesn't have a scheme.
func hostURL(host string) string {
	host = strings.TrimSuffix(host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}

// MirrorRunner maintains the lists of good mirrors of the repositories of tags.
type MirrorRunner struct {
	Options  Options
	HTTP     *http.Client
	Clock    clockwork.Clock
	Hostname string
	Log      *logrus.Entry

	// unreachable records the hosts which failed with a transport error; they aren't probed again.
	unreachable map[string]bool
}

func NewMirrorRunner(options Options, log *logrus.Entry) *MirrorRunner {
	hostname, err := os.Hostname()
	if err != nil {
		log.Warnf("couldn't determine hostname, so production mirror hosts will be used: %s", err)
	}
	return &MirrorRunner{
		Options:  options,
		HTTP:     &http.Client{},
		Clock:    clockwork.NewRealClock(),
		Hostname: hostname,
		Log:      log,
	}
}

// CandidateHosts returns the URLs of the hosts to consider as mirrors: the baseline hosts followed
// by the configured mirror hosts, without duplicates.
func (r *MirrorRunner) CandidateHosts() []string {
	baseline := r.Options.MirrorBaselineHosts
	if baseline == nil {
		baseline = BaselineHosts(r.Hostname)
	}
	hosts := make([]string, 0, len(baseline)+len(r.Options.MirrorHosts))
	seen := make(map[string]bool)
	for _, host := range append(append([]string{}, baseline...), r.Options.MirrorHosts...) {
		url := hostURL(host)
		if seen[url] {
			continue
		}
		seen[url] = true
		hosts = append(hosts, url)
	}
	return hosts
}

// Probe

// ProbeResult is the outcome of checking whether a mirror's copy of a repository is fresh.
type ProbeResult struct {
	BaseURL string
	Good    bool
	Reason  string

	// Unreachable is set if the request failed before any response was received.
	Unreachable bool
}

// Probe checks whether the repository at baseURL is fresh: its repomd.xml file must be served
// successfully with a Last-Modified time no older than the maximum mirror age.
func (r *MirrorRunner) Probe(ctx context.Context, baseURL string) ProbeResult {
	result := ProbeResult{BaseURL: baseURL}
	timeout := r.Options.MirrorTimeout
	if timeout <= 0 {
		timeout = DefaultMirrorTimeout
	}
	maxAge := r.Options.MirrorMaxAge
	if maxAge <= 0 {
		maxAge = DefaultMirrorMaxAge
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := baseURL + "/repodata/repomd.xml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Reason = errors.Wrapf(err, "couldn't make http get request for %s", url).Error()
		return result
	}
	res, err := r.HTTP.Do(req)
	if err != nil {
		result.Reason = errors.Wrapf(err, "couldn't get %s", url).Error()
		result.Unreachable = true
		return result
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		if err := res.Body.Close(); err != nil {
			r.Log.Warnf("couldn't close http response for %s: %s", url, err)
		}
	}()

	if res.StatusCode != http.StatusOK {
		result.Reason = "response status " + res.Status
		return result
	}
	lastModifiedHeader := res.Header.Get("Last-Modified")
	if lastModifiedHeader == "" {
		result.Reason = "response has no Last-Modified header"
		return result
	}
	lastModified, err := http.ParseTime(lastModifiedHeader)
	if err != nil {
		result.Reason = errors.Wrapf(
			err, "couldn't parse Last-Modified header %q", lastModifiedHeader,
		).Error()
		return result
	}
	if age := r.Clock.Since(lastModified); age > maxAge {
		result.Reason = "repository is stale (last modified " + age.Round(time.Minute).String() +
			" ago)"
		return result
	}
	result.Good = true
	return result
}

// GoodMirrors returns the base URLs of the architecture's repository on each candidate host whose
// copy of the repository is fresh. A host which can't be reached is skipped for the rest of the
// run.
func (r *MirrorRunner) GoodMirrors(ctx context.Context, tag Tag, arch string) []string {
	log := r.Log.WithField("tag", tag.Name)
	var good []string
	for _, host := range r.CandidateHosts() {
		if r.unreachable[host] {
			log.Debugf("skipping unreachable mirror host %s", host)
			continue
		}
		result := r.Probe(ctx, host+"/"+tag.MirrorBase(arch))
		if result.Unreachable {
			if r.unreachable == nil {
				r.unreachable = make(map[string]bool)
			}
			r.unreachable[host] = true
		}
		if !result.Good {
			log.Infof("excluding mirror %s: %s", result.BaseURL, result.Reason)
			continue
		}
		good = append(good, result.BaseURL)
	}
	return good
}

// Publish

// UpdateMirrorsForTag writes a list of good mirrors for each architecture of the tag into the
// working mirror tree, then publishes that tree. The tag fails if any architecture has no good
// mirrors.
func (r *MirrorRunner) UpdateMirrorsForTag(ctx context.Context, tag Tag) error {
	log := r.Log.WithField("tag", tag.Name)
	paths, err := r.Options.MirrorPaths(tag)
	if err != nil {
		return err
	}
	if err = os.RemoveAll(paths.Working); err != nil {
		return errors.Wrapf(err, "couldn't clear working mirror tree %s", paths.Working)
	}
	if err = ffs.EnsureExists(paths.Working); err != nil {
		return errors.Wrapf(err, "couldn't create working mirror tree %s", paths.Working)
	}

	for _, arch := range tag.Arches {
		good := r.GoodMirrors(ctx, tag, arch)
		if len(good) == 0 {
			return errors.Errorf("no good mirrors found for %s %s", tag.Name, arch)
		}
		listPath := filepath.Join(paths.Working, arch)
		if err = os.WriteFile(
			listPath, []byte(strings.Join(good, "\n")+"\n"), 0o644,
		); err != nil {
			return errors.Wrapf(err, "couldn't write mirror list %s", listPath)
		}
		log.Infof("%d good mirrors for %s", len(good), arch)
	}

	return errors.Wrapf(
		Rotate(paths, log), "error updating mirror lists at %s", paths.Published,
	)
}
