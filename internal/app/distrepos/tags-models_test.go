package distrepos

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewTag(t *testing.T) {
	t.Parallel()
	tag, err := NewTag(
		"osg-23-main-el9", "", "/osg/23-main/el9/release/", []string{"x86_64", "aarch64"},
		[]SrcDst{{Src: "23.0/el9/$ARCH/release", Dst: "condor"}},
		TagSubdirs{ArchRPMs: "$ARCH/Packages/", SourceRPMs: "src/Packages"},
	)
	if err != nil {
		t.Fatalf("couldn't make tag: %s", err)
	}
	want := Tag{
		Name:               "osg-23-main-el9",
		Source:             "osg-23-main-el9",
		Dest:               "osg/23-main/el9/release",
		Arches:             []string{"x86_64", "aarch64"},
		CondorRepos:        []SrcDst{{Src: "23.0/el9/$ARCH/release", Dst: "condor"}},
		ArchRPMsDest:       "osg/23-main/el9/release/$ARCH/Packages",
		DebugRPMsDest:      "osg/23-main/el9/release/$ARCH/Packages",
		SourceRPMsDest:     "osg/23-main/el9/release/src/Packages",
		ArchRPMsMirrorBase: "osg/23-main/el9/release/$ARCH",
	}
	if diff := cmp.Diff(want, tag); diff != "" {
		t.Errorf("unexpected tag: diff (-want +got):\n%s", diff)
	}
	if got := tag.ArchDest("aarch64"); got != "osg/23-main/el9/release/aarch64/Packages" {
		t.Errorf("unexpected arch dest %s", got)
	}
	if got := tag.MirrorBase("x86_64"); got != "osg/23-main/el9/release/x86_64" {
		t.Errorf("unexpected mirror base %s", got)
	}
}

func TestNewTagInvalid(t *testing.T) {
	t.Parallel()
	valid := TagSubdirs{ArchRPMs: "$ARCH/Packages", SourceRPMs: "src/Packages"}
	tests := map[string]struct {
		dest    string
		arches  []string
		subdirs TagSubdirs
	}{
		"empty-dest": {
			dest:    "/",
			arches:  []string{"x86_64"},
			subdirs: valid,
		},
		"no-arches": {
			dest:    "osg/23-main/el9",
			subdirs: valid,
		},
		"bad-arch": {
			dest:    "osg/23-main/el9",
			arches:  []string{"x86/64"},
			subdirs: valid,
		},
		"no-arch-subdir": {
			dest:    "osg/23-main/el9",
			arches:  []string{"x86_64"},
			subdirs: TagSubdirs{SourceRPMs: "src/Packages"},
		},
		"no-source-subdir": {
			dest:    "osg/23-main/el9",
			arches:  []string{"x86_64"},
			subdirs: TagSubdirs{ArchRPMs: "$ARCH/Packages"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewTag("osg-23-main-el9", "", tc.dest, tc.arches, nil, tc.subdirs)
			if !IsConfigError(err) {
				t.Errorf("expected a config error, got %v", err)
			}
		})
	}
}

func TestParseSrcDsts(t *testing.T) {
	t.Parallel()
	value := `
		/23.0/el9/$ARCH/release/ -> condor/

		not a pair
		 -> missing-src
		23.0/el9/$ARCH/daily->condor-daily
	`
	want := []SrcDst{
		{Src: "23.0/el9/$ARCH/release", Dst: "condor"},
		{Src: "23.0/el9/$ARCH/daily", Dst: "condor-daily"},
	}
	if diff := cmp.Diff(want, ParseSrcDsts(value, testLog())); diff != "" {
		t.Errorf("unexpected pairs: diff (-want +got):\n%s", diff)
	}
}
