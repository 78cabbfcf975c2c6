package distrepos

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/shlex"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// DefaultConfigPath is the location of the config file when none is specified.
const DefaultConfigPath = "/etc/distrepos.conf"

const (
	optionsSectionName  = "options"
	tagSectionPrefix    = "tag "
	tagsetSectionPrefix = "tagset "

	maxInterpolationDepth = 10
)

// requiredTagOptions must be set (and non-empty) in every tag and tagset section.
var requiredTagOptions = []string{"dest", "arches", "arch_rpms_subdir", "source_rpms_subdir"}

// Config is a parsed config file. Options may refer to other options as `${option}` (in the
// same section) or `${section:option}`, and `$$` is a literal `$`; options missing from a section
// fall back to the DEFAULT section.
type Config struct {
	Path     string
	file     *ini.File
	defaults map[string]string
}

// LoadConfig reads the config file at the path.
func LoadConfig(configPath string) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:            true,
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
	}, configPath)
	if err != nil {
		return nil, newConfigError("couldn't load config file %s: %s", configPath, err)
	}
	return newConfig(configPath, file), nil
}

// LoadConfigData parses config file contents.
func LoadConfigData(data []byte) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:            true,
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
	}, data)
	if err != nil {
		return nil, newConfigError("couldn't parse config: %s", err)
	}
	return newConfig("", file), nil
}

func newConfig(configPath string, file *ini.File) *Config {
	return &Config{
		Path:     configPath,
		file:     file,
		defaults: file.Section(ini.DefaultSection).KeysHash(),
	}
}

// Lookup

func (c *Config) hasSection(section string) bool {
	_, err := c.file.GetSection(section)
	return err == nil
}

// lookupRaw returns the uninterpolated value of the option in the section, falling back to the
// DEFAULT section.
func (c *Config) lookupRaw(section, option string) (string, bool) {
	option = strings.ToLower(option)
	if sec, err := c.file.GetSection(section); err == nil {
		if value, ok := sec.KeysHash()[option]; ok {
			return value, true
		}
	}
	value, ok := c.defaults[option]
	return value, ok
}

var referencePattern = regexp.MustCompile(`\$(\$|\{([^}]*)\})`)

// interpolate resolves references to other options in a value of an option in the section.
// References to options which don't exist are left as they are, so that they can be expanded as
// templates later.
func (c *Config) interpolate(section, value string, depth int) (string, error) {
	if depth > maxInterpolationDepth {
		return "", newConfigError(
			"too many levels of interpolation in [%s] (is an option referring to itself?)", section,
		)
	}
	var err error
	result := referencePattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := referencePattern.FindStringSubmatch(match)
		if groups[1] == "$" {
			return "$"
		}
		refSection, refOption, qualified := strings.Cut(groups[2], ":")
		if !qualified {
			refSection, refOption = section, groups[2]
		}
		raw, ok := c.lookupRaw(refSection, refOption)
		if !ok {
			return match
		}
		resolved, ierr := c.interpolate(refSection, raw, depth+1)
		if ierr != nil && err == nil {
			err = ierr
		}
		return resolved
	})
	return result, err
}

// Get returns the interpolated value of the option in the section.
func (c *Config) Get(section, option string) (value string, ok bool, err error) {
	raw, ok := c.lookupRaw(section, option)
	if !ok {
		return "", false, nil
	}
	value, err = c.interpolate(section, raw, 0)
	return value, true, err
}

func (c *Config) getOr(section, option, fallback string) (string, error) {
	value, ok, err := c.Get(section, option)
	if err != nil || !ok {
		return fallback, err
	}
	return value, nil
}

// Logging settings

// Debug returns whether debug logging is enabled in the options section. Invalid values disable it.
func (c *Config) Debug() bool {
	value, ok, err := c.Get(optionsSectionName, "debug")
	if err != nil || !ok {
		return false
	}
	enabled, err := parseBool(value)
	return err == nil && enabled
}

// Logfile returns the path of the log file set in the options section, if any.
func (c *Config) Logfile() string {
	value, _ := c.getOr(optionsSectionName, "logfile", "")
	return strings.TrimSpace(value)
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "yes", "true", "on":
		return true, nil
	case "0", "no", "false", "off":
		return false, nil
	default:
		return false, errors.Errorf("not a boolean: %q", value)
	}
}

// Options

// Overrides are settings from the command line which take precedence over the config file.
type Overrides struct {
	// DestRoot replaces dest_root, and also replaces working_root and previous_root with its
	// ".working" and ".previous" siblings.
	DestRoot string
	// LockDir is the lock directory; an empty string disables locking.
	LockDir string
}

// Options returns the global options from the options section.
func (c *Config) Options(overrides Overrides) (options Options, err error) {
	if !c.hasSection(optionsSectionName) {
		return Options{}, newConfigError("missing required section [%s]", optionsSectionName)
	}
	options = DefaultOptions()
	options.LockDir = overrides.LockDir
	get := func(option, fallback string) string {
		if err != nil {
			return fallback
		}
		var value string
		value, err = c.getOr(optionsSectionName, option, fallback)
		return strings.TrimSpace(value)
	}

	if overrides.DestRoot != "" {
		options.DestRoot = trimTrailingSlashes(overrides.DestRoot)
		options.WorkingRoot = options.DestRoot + ".working"
		options.PreviousRoot = options.DestRoot + ".previous"
	} else {
		options.DestRoot = trimTrailingSlashes(get("dest_root", DefaultDestRoot))
		options.WorkingRoot = trimTrailingSlashes(get("working_root", options.DestRoot+".working"))
		options.PreviousRoot = trimTrailingSlashes(
			get("previous_root", options.DestRoot+".previous"),
		)
	}
	options.KojiRsync = strings.TrimSuffix(get("koji_rsync", DefaultKojiRsync), "/")
	options.CondorRsync = strings.TrimSuffix(get("condor_rsync", DefaultCondorRsync), "/")

	if options.MirrorRoot = trimTrailingSlashes(get("mirror_root", "")); options.MirrorRoot != "" {
		options.MirrorWorkingRoot = trimTrailingSlashes(
			get("mirror_working_root", options.MirrorRoot+".working"),
		)
		options.MirrorPrevRoot = trimTrailingSlashes(
			get("mirror_prev_root", options.MirrorRoot+".prev"),
		)
	}
	options.MirrorHosts = strings.Fields(get("mirror_hosts", ""))
	if _, ok := c.lookupRaw(optionsSectionName, "mirror_baseline_hosts"); ok {
		options.MirrorBaselineHosts = append([]string{}, strings.Fields(
			get("mirror_baseline_hosts", ""),
		)...)
	}
	options.StaticRoot = get("static_root", "")
	if command := get("cadist_command", ""); command != "" {
		if options.CadistCommand, err = shlex.Split(command); err != nil {
			return Options{}, newConfigError("invalid cadist_command %q: %s", command, err)
		}
	}
	if err != nil {
		return Options{}, err
	}

	durations := []struct {
		option string
		value  *time.Duration
	}{
		{"transfer_timeout", &options.TransferTimeout},
		{"list_timeout", &options.ListTimeout},
		{"mirror_timeout", &options.MirrorTimeout},
		{"mirror_max_age", &options.MirrorMaxAge},
	}
	for _, d := range durations {
		value := get(d.option, "")
		if err != nil {
			return Options{}, err
		}
		if value == "" {
			continue
		}
		if *d.value, err = parseDuration(value); err != nil {
			return Options{}, newConfigError("invalid %s %q: %s", d.option, value, err)
		}
	}

	if options, err = absOptionPaths(options); err != nil {
		return Options{}, err
	}
	return options, nil
}

func trimTrailingSlashes(p string) string {
	if trimmed := strings.TrimRight(p, "/"); trimmed != "" || p == "" {
		return trimmed
	}
	return "/"
}

// parseDuration parses either a Go duration string or a number of seconds.
func parseDuration(value string) (time.Duration, error) {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}

func absOptionPaths(options Options) (Options, error) {
	for _, p := range []*string{
		&options.DestRoot, &options.WorkingRoot, &options.PreviousRoot, &options.LockDir,
		&options.MirrorRoot, &options.MirrorWorkingRoot, &options.MirrorPrevRoot,
	} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return Options{}, errors.Wrapf(err, "couldn't make %s absolute", *p)
		}
		*p = abs
	}
	return options, nil
}

// Tags

// Tags returns the tags defined by the tag and tagset sections whose names match any of the glob
// patterns, or all tags if there are no patterns. Tags from tag sections come first, in the order
// of the sections; a tag expanded from a tagset is skipped if a tag section defines it.
func (c *Config) Tags(patterns []string, log *logrus.Entry) ([]Tag, error) {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, newConfigError("invalid tag pattern %q", pattern)
		}
	}

	var (
		tags []Tag
		errs *multierror.Error
	)
	defined := make(map[string]bool)
	for _, section := range c.file.Sections() {
		name, ok := cutPrefixFold(section.Name(), tagSectionPrefix)
		if !ok {
			continue
		}
		defined[name] = true
		if !matchAny(name, patterns) {
			continue
		}
		sectionName := section.Name()
		tag, err := c.parseTag(sectionName, name, func(option string) (string, bool, error) {
			return c.Get(sectionName, option)
		}, log)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		tags = append(tags, tag)
	}

	for _, section := range c.file.Sections() {
		tagsetName, ok := cutPrefixFold(section.Name(), tagsetSectionPrefix)
		if !ok {
			continue
		}
		expanded, err := c.expandTagset(section.Name(), tagsetName, defined, patterns, log)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		tags = append(tags, expanded...)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, &ProgramError{Code: ExitConfig, Err: err}
	}
	if len(tags) == 0 {
		return nil, newConfigError("no (matching) [tag ...] or [tagset ...] sections found")
	}
	return tags, nil
}

// expandTagset makes a tag for each value of the tagset's dvers option, substituting the value for
// `$EL` (or `${EL}`) in the tagset's name and options.
func (c *Config) expandTagset(
	sectionName, tagsetName string, defined map[string]bool, patterns []string, log *logrus.Entry,
) ([]Tag, error) {
	tagsetName = strings.ReplaceAll(tagsetName, "$$", "$")
	if !strings.Contains(tagsetName, "${EL}") && !strings.Contains(tagsetName, "$EL") {
		return nil, newConfigError("section name [%s] does not contain '${EL}'", sectionName)
	}
	dvers, _, err := c.Get(sectionName, "dvers")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dvers) == "" {
		return nil, newMissingOptionError(sectionName, "dvers")
	}
	for _, option := range requiredTagOptions {
		if value, _, _ := c.Get(sectionName, option); strings.TrimSpace(value) == "" {
			return nil, newMissingOptionError(sectionName, option)
		}
	}

	var tags []Tag
	for _, dver := range strings.Fields(dvers) {
		vars := map[string]string{"EL": dver}
		name := ExpandTemplate(tagsetName, vars)
		if defined[name] {
			log.Debugf("skipping tag %s from [%s] because it is already defined", name, sectionName)
			continue
		}
		defined[name] = true
		if !matchAny(name, patterns) {
			continue
		}
		tag, err := c.parseTag(sectionName, name, func(option string) (string, bool, error) {
			value, ok, err := c.Get(sectionName, option)
			return ExpandTemplate(value, vars), ok, err
		}, log)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (c *Config) parseTag(
	sectionName, name string, get func(option string) (string, bool, error), log *logrus.Entry,
) (Tag, error) {
	values := make(map[string]string)
	for _, option := range append(
		[]string{"source", "condor_repos", "debug_rpms_subdir", "arch_rpms_mirror_base"},
		requiredTagOptions...,
	) {
		value, _, err := get(option)
		if err != nil {
			return Tag{}, err
		}
		values[option] = strings.TrimSpace(value)
	}
	for _, option := range requiredTagOptions {
		if values[option] == "" {
			return Tag{}, newMissingOptionError(sectionName, option)
		}
	}

	return NewTag(
		name, values["source"], values["dest"], strings.Fields(values["arches"]),
		ParseSrcDsts(values["condor_repos"], log.WithField("tag", name)),
		TagSubdirs{
			ArchRPMs:       values["arch_rpms_subdir"],
			DebugRPMs:      values["debug_rpms_subdir"],
			SourceRPMs:     values["source_rpms_subdir"],
			ArchMirrorBase: values["arch_rpms_mirror_base"],
		},
	)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func matchAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
