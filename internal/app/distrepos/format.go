package distrepos

import (
	"io"
	"path"
	"strings"

	"github.com/osg-htc/distrepos/internal/clients/cli"
)

// PrintFormat is the output format of the print modes.
type PrintFormat string

const (
	PrintText PrintFormat = "text"
	PrintYAML PrintFormat = "yaml"
)

func ParsePrintFormat(name string) (PrintFormat, error) {
	switch format := PrintFormat(strings.ToLower(name)); format {
	case PrintText, PrintYAML:
		return format, nil
	case "":
		return PrintText, nil
	default:
		return "", newConfigError("unknown print format %q", name)
	}
}

// Tags

type tagDescription struct {
	Tag       `yaml:",inline"`
	SourceURL string `yaml:"source-url"`
	Published string `yaml:"published"`
}

// FprintTag prints the tag's settings, resolved against the options.
func FprintTag(indent int, out io.Writer, tag Tag, options Options) {
	cli.IndentedFprintf(indent, out, "Tag %s\n", tag.Name)
	indent++
	cli.IndentedFprintf(indent, out, "source:           %s/%s\n", options.KojiRsync, tag.Source)
	cli.IndentedFprintf(indent, out, "dest:             %s\n", path.Join(options.DestRoot, tag.Dest))
	cli.IndentedFprintf(indent, out, "arches:           %s\n", strings.Join(tag.Arches, " "))
	cli.IndentedFprintf(
		indent, out, "arch_rpms_dest:   %s\n", path.Join(options.DestRoot, tag.ArchRPMsDest),
	)
	cli.IndentedFprintf(
		indent, out, "debug_rpms_dest:  %s\n", path.Join(options.DestRoot, tag.DebugRPMsDest),
	)
	cli.IndentedFprintf(
		indent, out, "source_rpms_dest: %s\n", path.Join(options.DestRoot, tag.SourceRPMsDest),
	)
	if len(tag.CondorRepos) == 0 {
		return
	}
	cli.IndentedFprintln(indent, out, "condor_repos:")
	for _, repo := range tag.CondorRepos {
		cli.BulletedFprintln(indent+1, out, options.CondorRsync+"/"+repo.String())
	}
}

// FprintTags prints the settings of every tag in the requested format.
func FprintTags(out io.Writer, tags []Tag, options Options, format PrintFormat) error {
	if format == PrintYAML {
		descriptions := make([]tagDescription, 0, len(tags))
		for _, tag := range tags {
			descriptions = append(descriptions, tagDescription{
				Tag:       tag,
				SourceURL: options.KojiRsync + "/" + tag.Source,
				Published: path.Join(options.DestRoot, tag.Dest),
			})
		}
		return cli.IndentedFprintYaml(0, out, descriptions)
	}
	for _, tag := range tags {
		FprintTag(0, out, tag, options)
		cli.IndentedFprintln(0, out, "------")
	}
	return nil
}

// Mirrors

type mirrorDescription struct {
	Name      string            `yaml:"name"`
	Published string            `yaml:"published"`
	Arches    []string          `yaml:"arches"`
	Paths     map[string]string `yaml:"paths"`
	Hosts     []string          `yaml:"hosts"`
}

// FprintMirror prints the tag's mirror list settings.
func FprintMirror(indent int, out io.Writer, tag Tag, options Options, hosts []string) {
	cli.IndentedFprintf(indent, out, "Tag %s\n", tag.Name)
	indent++
	cli.IndentedFprintf(indent, out, "dest:   %s\n", path.Join(options.MirrorRoot, tag.Dest))
	cli.IndentedFprintf(indent, out, "arches: %s\n", strings.Join(tag.Arches, " "))
	cli.IndentedFprintf(indent, out, "path:   %s\n", tag.ArchRPMsMirrorBase)
	cli.IndentedFprintln(indent, out, "mirror hosts:")
	for _, host := range hosts {
		cli.BulletedFprintln(indent+1, out, host)
	}
}

// FprintMirrors prints the mirror list settings of every tag in the requested format.
func FprintMirrors(
	out io.Writer, tags []Tag, options Options, hosts []string, format PrintFormat,
) error {
	if format == PrintYAML {
		descriptions := make([]mirrorDescription, 0, len(tags))
		for _, tag := range tags {
			paths := make(map[string]string)
			for _, arch := range tag.Arches {
				paths[arch] = tag.MirrorBase(arch)
			}
			descriptions = append(descriptions, mirrorDescription{
				Name:      tag.Name,
				Published: path.Join(options.MirrorRoot, tag.Dest),
				Arches:    tag.Arches,
				Paths:     paths,
				Hosts:     hosts,
			})
		}
		return cli.IndentedFprintYaml(0, out, descriptions)
	}
	for _, tag := range tags {
		FprintMirror(0, out, tag, options, hosts)
		cli.IndentedFprintln(0, out, "------")
	}
	return nil
}
