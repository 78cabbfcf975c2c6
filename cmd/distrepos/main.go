package main

import (
	"log"
	"os"
	"runtime/debug"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"

	"github.com/osg-htc/distrepos/internal/app/distrepos"
)

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var app = &cli.App{
	Name:    "distrepos",
	Version: toolVersion,
	Usage: "Mirrors tagged RPM repositories from the build system, generates their metadata, " +
		"and publishes them along with mirror lists",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   distrepos.DefaultConfigPath,
			Usage:   "Path of the config file",
			EnvVars: []string{"DISTREPOS_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:    "action",
			Aliases: []string{"a"},
			Value:   cli.NewStringSlice(actionNames(distrepos.DefaultActions)...),
			Usage:   "Action to take: rsync, mirror, or cadist; may be specified multiple times",
			EnvVars: []string{"DISTREPOS_ACTIONS"},
		},
		&cli.StringSliceFlag{
			Name:    "tag",
			Aliases: []string{"t"},
			Usage: "Glob pattern of the tags to process; may be specified multiple times. All " +
				"tags are processed if no pattern is given",
			EnvVars: []string{"DISTREPOS_TAGS"},
		},
		&cli.StringFlag{
			Name:    "destroot",
			Usage:   "Top of the destination directory tree, overriding the config file",
			EnvVars: []string{"DISTREPOS_DESTROOT"},
		},
		&cli.StringFlag{
			Name:    "lock-dir",
			Value:   distrepos.DefaultLockDir,
			Usage:   "Directory for lock files; an empty value disables locking",
			EnvVars: []string{"DISTREPOS_LOCK_DIR"},
		},
		&cli.StringFlag{
			Name:    "logfile",
			Usage:   "Path of a log file to write to in addition to stderr",
			EnvVars: []string{"DISTREPOS_LOGFILE"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Log debug-level messages",
			EnvVars: []string{"DISTREPOS_DEBUG"},
		},
		&cli.BoolFlag{
			Name:  "print-tags",
			Usage: "Print the parsed tag definitions and exit",
		},
		&cli.BoolFlag{
			Name:  "print-mirrors",
			Usage: "Print the parsed mirror list definitions and exit",
		},
		&cli.StringFlag{
			Name:  "print-format",
			Value: string(distrepos.PrintText),
			Usage: "Output format of the print modes: text or yaml",
		},
	},
	Action:  runAction,
	Suggest: true,
}

func actionNames(actions []distrepos.ActionType) []string {
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, string(action))
	}
	return names
}

// Versioning

// fallbackVersion is the version which the tool reports itself as if its actual version is
// unknown.
const fallbackVersion = "v0.1.0-dev"

var (
	toolVersion = determineVersion(buildSummary, fallbackVersion)
	// buildSummary should be overridden by ldflags, such as with GoReleaser's "Summary".
	buildSummary = ""
)

// determineVersion returns either a semver, a pseudoversion, or a Git hash based on information
// available from Go's `debug.ReadBuildInfo()`.
func determineVersion(override, fallback string) string {
	if override != "" {
		return override
	}

	const dirtySuffix = "-dirty"
	if info, ok := debug.ReadBuildInfo(); ok &&
		info.Main.Version != "" && info.Main.Version != "(devel)" {
		v := info.Main.Version
		if versioninfo.DirtyBuild {
			v += dirtySuffix
		}
		return v
	}
	if v := versioninfo.Version; v != "unknown" && v != "(devel)" {
		if versioninfo.DirtyBuild {
			v += dirtySuffix
		}
		return v
	}

	if r := versioninfo.Revision; r != "unknown" && r != "" {
		if versioninfo.DirtyBuild {
			r += dirtySuffix
		}
		return r
	}
	return fallback
}
