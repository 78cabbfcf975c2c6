package distrepos

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

const (
	// logfileMaxSize is the size in megabytes at which the logfile is rotated.
	logfileMaxSize = 500
	logfileBackups = 1
)

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}

// NewLogger makes a logger which writes to stderr and, if logfile is not empty, also to a
// size-rotated logfile. The returned closer must be closed after the last message is logged.
func NewLogger(out io.Writer, logfile string, debug bool) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	if out == nil {
		out = os.Stderr
	}
	if logfile == "" {
		logger.SetOutput(out)
		return logger, nopCloser{}, nil
	}

	if err := ffs.EnsureParentExists(logfile); err != nil {
		return nil, nil, newConfigError("couldn't make directory for logfile %s: %s", logfile, err)
	}
	rotated := &lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    logfileMaxSize,
		MaxBackups: logfileBackups,
	}
	logger.SetOutput(io.MultiWriter(out, rotated))
	return logger, rotated, nil
}
