package cli

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIndentedWriter(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		indent int
		input  string
		want   string
	}{
		"empty": {
			indent: 1,
			input:  "",
			want:   "",
		},
		"lines": {
			indent: 2,
			input:  "sent 1.2kB\ntotal size 4MB\n",
			want:   "    sent 1.2kB\n    total size 4MB\n",
		},
		"carriage-return": {
			indent: 1,
			input:  "10%\r100%\n",
			want:   "  10%\r  100%\n",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			out := &bytes.Buffer{}
			w := NewIndentedWriter(tc.indent, out)
			n, err := w.Write([]byte(tc.input))
			if err != nil {
				t.Fatalf("write failed: %s", err)
			}
			if n != len(tc.input) {
				t.Errorf("wrote %d bytes, want %d", n, len(tc.input))
			}
			if diff := cmp.Diff(tc.want, out.String()); diff != "" {
				t.Errorf("unexpected output: diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIndentedFprintYaml(t *testing.T) {
	t.Parallel()
	type repo struct {
		Src string `yaml:"src"`
		Dst string `yaml:"dst"`
	}
	out := &bytes.Buffer{}
	err := IndentedFprintYaml(1, out, map[string][]repo{
		"condor-repos": {{Src: "23.0/el9/$ARCH/release", Dst: "condor"}},
	})
	if err != nil {
		t.Fatalf("couldn't print yaml: %s", err)
	}
	want := "  condor-repos:\n" +
		"    - src: 23.0/el9/$ARCH/release\n" +
		"      dst: condor\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("unexpected output: diff (-want +got):\n%s", diff)
	}
}

func TestBulletedFprintln(t *testing.T) {
	t.Parallel()
	out := &bytes.Buffer{}
	BulletedFprintln(1, out, "https://repo.osg-htc.org")
	if got, want := out.String(), "  - https://repo.osg-htc.org\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
