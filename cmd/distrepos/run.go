package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/osg-htc/distrepos/internal/app/distrepos"
	fcli "github.com/osg-htc/distrepos/internal/clients/cli"
)

func runAction(c *cli.Context) (err error) {
	config, err := distrepos.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	logfile := c.String("logfile")
	if logfile == "" {
		logfile = config.Logfile()
	}
	logger, closer, err := distrepos.NewLogger(os.Stderr, logfile, c.Bool("debug") || config.Debug())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "couldn't close logfile")
		}
	}()
	log := logrus.NewEntry(logger)

	options, err := config.Options(distrepos.Overrides{
		DestRoot: c.String("destroot"),
		LockDir:  c.String("lock-dir"),
	})
	if err != nil {
		log.Error(err)
		return err
	}
	tags, err := config.Tags(c.StringSlice("tag"), log)
	if err != nil {
		log.Error(err)
		return err
	}
	actions, err := distrepos.ParseActions(c.StringSlice("action"))
	if err != nil {
		log.Error(err)
		return err
	}

	if c.Bool("print-tags") || c.Bool("print-mirrors") {
		return printDefinitions(c, tags, options, log)
	}

	if err = options.Validate(actions); err != nil {
		log.Error(err)
		return err
	}
	driver := distrepos.NewDriver(options, tags, actions, log)
	report, err := driver.Run(c.Context)
	if err != nil {
		log.Error(err)
		return err
	}
	driver.LogSummary(report)
	if code := report.ExitCode(); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func printDefinitions(
	c *cli.Context, tags []distrepos.Tag, options distrepos.Options, log *logrus.Entry,
) error {
	format, err := distrepos.ParsePrintFormat(c.String("print-format"))
	if err != nil {
		return err
	}
	printTags := c.Bool("print-tags")
	printMirrors := c.Bool("print-mirrors")
	out := c.App.Writer
	if printTags && printMirrors {
		// Both listings are nested under headings
		out = fcli.NewIndentedWriter(1, c.App.Writer)
	}
	if printTags {
		if printMirrors {
			fcli.IndentedFprintln(0, c.App.Writer, "tags:")
		}
		if err = distrepos.FprintTags(out, tags, options, format); err != nil {
			return err
		}
	}
	if printMirrors {
		if printTags {
			fcli.IndentedFprintln(0, c.App.Writer, "mirrors:")
		}
		hosts := distrepos.NewMirrorRunner(options, log).CandidateHosts()
		if err = distrepos.FprintMirrors(out, tags, options, hosts, format); err != nil {
			return err
		}
	}
	return nil
}
