package distrepos

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SrcDst is a pair of a remote source path and a local destination path, both relative to their
// respective roots.
type SrcDst struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

func (sd SrcDst) String() string {
	return sd.Src + " -> " + sd.Dst
}

// ParseSrcDsts parses lines of the form `SRC -> DST`, skipping blank lines. Lines which don't
// match that form are logged and skipped. Leading and trailing slashes are stripped.
func ParseSrcDsts(value string, log *logrus.Entry) []SrcDst {
	var pairs []SrcDst
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		src, dst, ok := strings.Cut(line, "->")
		src = strings.Trim(strings.TrimSpace(src), "/")
		dst = strings.Trim(strings.TrimSpace(dst), "/")
		if !ok || src == "" || dst == "" || strings.Contains(dst, "->") {
			log.Warnf("skipping invalid SRC -> DST line %q", line)
			continue
		}
		pairs = append(pairs, SrcDst{Src: src, Dst: dst})
	}
	return pairs
}

// Tag is one unit of distribution: a remote build-system tag and where its repository goes.
type Tag struct {
	// Name is the unique identifier of the tag, which is also used as its lock name.
	Name string `yaml:"name"`
	// Source is the remote tag directory name.
	Source string `yaml:"source"`
	// Dest is the destination path relative to the destination roots.
	Dest string `yaml:"dest"`
	// Arches are the architectures of the repository.
	Arches []string `yaml:"arches"`
	// CondorRepos are the HTCondor repositories merged into the tag's repository.
	CondorRepos []SrcDst `yaml:"condor-repos,omitempty"`
	// ArchRPMsDest is the path of an architecture's binary RPMs relative to the destination
	// roots, templated by `$ARCH`.
	ArchRPMsDest string `yaml:"arch-rpms-dest"`
	// DebugRPMsDest is the path of an architecture's debug RPMs relative to the destination
	// roots, templated by `$ARCH`.
	DebugRPMsDest string `yaml:"debug-rpms-dest"`
	// SourceRPMsDest is the path of the source RPMs relative to the destination roots.
	SourceRPMsDest string `yaml:"source-rpms-dest"`
	// ArchRPMsMirrorBase is the path of an architecture's repository relative to a mirror's root,
	// templated by `$ARCH`.
	ArchRPMsMirrorBase string `yaml:"arch-rpms-mirror-base"`
}

// TagSubdirs are the subdirectories of a tag's repository, relative to its dest.
type TagSubdirs struct {
	ArchRPMs       string
	DebugRPMs      string
	SourceRPMs     string
	ArchMirrorBase string
}

// NewTag makes a tag, checking that its fields are valid. Leading and trailing slashes in paths
// are stripped before checking. The source defaults to the name, the debug RPM subdirectory
// defaults to the binary RPM subdirectory, and the mirror base defaults to `$ARCH`.
func NewTag(
	name, source, dest string, arches []string, condorRepos []SrcDst, subdirs TagSubdirs,
) (Tag, error) {
	dest = strings.Trim(dest, "/")
	subdirs.ArchRPMs = strings.Trim(subdirs.ArchRPMs, "/")
	subdirs.DebugRPMs = strings.Trim(subdirs.DebugRPMs, "/")
	subdirs.SourceRPMs = strings.Trim(subdirs.SourceRPMs, "/")
	subdirs.ArchMirrorBase = strings.Trim(subdirs.ArchMirrorBase, "/")
	if source == "" {
		source = name
	}
	if subdirs.DebugRPMs == "" {
		subdirs.DebugRPMs = subdirs.ArchRPMs
	}
	if subdirs.ArchMirrorBase == "" {
		subdirs.ArchMirrorBase = "$ARCH"
	}

	var errs *multierror.Error
	if name == "" {
		errs = multierror.Append(errs, errors.New("name is empty"))
	}
	if dest == "" {
		errs = multierror.Append(errs, errors.New("dest is empty"))
	}
	if len(arches) == 0 {
		errs = multierror.Append(errs, errors.New("arches is empty"))
	}
	for _, arch := range arches {
		if arch == "" || strings.ContainsAny(arch, "/ \t") {
			errs = multierror.Append(errs, errors.Errorf("invalid arch %q", arch))
		}
	}
	if subdirs.ArchRPMs == "" {
		errs = multierror.Append(errs, errors.New("arch_rpms_subdir is empty"))
	}
	if subdirs.SourceRPMs == "" {
		errs = multierror.Append(errs, errors.New("source_rpms_subdir is empty"))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return Tag{}, &ProgramError{
			Code: ExitConfig, Err: errors.Wrapf(err, "invalid tag %s", name),
		}
	}

	return Tag{
		Name:               name,
		Source:             source,
		Dest:               dest,
		Arches:             arches,
		CondorRepos:        condorRepos,
		ArchRPMsDest:       dest + "/" + subdirs.ArchRPMs,
		DebugRPMsDest:      dest + "/" + subdirs.DebugRPMs,
		SourceRPMsDest:     dest + "/" + subdirs.SourceRPMs,
		ArchRPMsMirrorBase: dest + "/" + subdirs.ArchMirrorBase,
	}, nil
}

// ArchDest returns the path of the architecture's binary RPMs relative to the destination roots.
func (t Tag) ArchDest(arch string) string {
	return expandArch(t.ArchRPMsDest, arch)
}

// DebugDest returns the path of the architecture's debug RPMs relative to the destination roots.
func (t Tag) DebugDest(arch string) string {
	return expandArch(t.DebugRPMsDest, arch)
}

// MirrorBase returns the path of the architecture's repository relative to a mirror root.
func (t Tag) MirrorBase(arch string) string {
	return expandArch(t.ArchRPMsMirrorBase, arch)
}

func (t Tag) String() string {
	return fmt.Sprintf("%s -> %s (%s)", t.Source, t.Dest, strings.Join(t.Arches, ", "))
}
