package distrepos

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// Repository layout within a tag's tree
const (
	srcDirName      = "src"
	packagesDirName = "Packages"
	debugDirName    = "debug"
	pkglistFileName = "pkglist"
)

// PackageKind is the classification of a file for the package lists.
type PackageKind int

const (
	KindNone PackageKind = iota
	KindBinary
	KindDebug
	KindSource
)

// ClassifyPackage determines which package list (if any) a file belongs in, based on its name.
func ClassifyPackage(filename string) PackageKind {
	switch {
	case strings.HasSuffix(filename, ".src.rpm"):
		return KindSource
	case !strings.HasSuffix(filename, ".rpm"):
		return KindNone
	case strings.Contains(filename, "-debuginfo") || strings.Contains(filename, "-debugsource"):
		return KindDebug
	default:
		return KindBinary
	}
}

// UpdatePkglists regenerates the package lists of the repository tree at treePath: `src/pkglist`
// lists the source RPMs, and for each architecture `<arch>/pkglist` lists the binary RPMs while
// `<arch>/debug/pkglist` lists the debug RPMs (which are stored alongside the binary RPMs). Paths
// in each list are relative to the directory containing the list.
func UpdatePkglists(treePath string, arches []string, log *logrus.Entry) error {
	if err := updateSourcePkglist(treePath, log); err != nil {
		return err
	}
	for _, arch := range arches {
		if err := updateArchPkglists(treePath, arch, log); err != nil {
			return err
		}
	}
	return nil
}

func updateSourcePkglist(treePath string, log *logrus.Entry) error {
	srcDir := filepath.Join(treePath, srcDirName)
	if !ffs.DirExists(srcDir) {
		return errors.Errorf(
			"no %s directory found; the repo may not have been generated with the right options "+
				"(--with-src)", srcDir,
		)
	}
	var lines []string
	if err := walkPackages(
		filepath.Join(srcDir, packagesDirName), func(filePath string, kind PackageKind) error {
			if kind != KindSource {
				return nil
			}
			line, err := relativeListPath(srcDir, filePath)
			lines = append(lines, line)
			return err
		},
	); err != nil {
		return err
	}
	return writePkglist(filepath.Join(srcDir, pkglistFileName), lines, log)
}

func updateArchPkglists(treePath, arch string, log *logrus.Entry) error {
	archDir := filepath.Join(treePath, arch)
	debugDir := filepath.Join(archDir, debugDirName)
	if err := ffs.EnsureExists(debugDir); err != nil {
		return errors.Wrapf(err, "couldn't make debug directory %s", debugDir)
	}
	var binaryLines, debugLines []string
	if err := walkPackages(
		filepath.Join(archDir, packagesDirName), func(filePath string, kind PackageKind) error {
			var (
				line string
				err  error
			)
			switch kind {
			case KindBinary:
				line, err = relativeListPath(archDir, filePath)
				binaryLines = append(binaryLines, line)
			case KindDebug:
				line, err = relativeListPath(debugDir, filePath)
				debugLines = append(debugLines, line)
			}
			return err
		},
	); err != nil {
		return err
	}
	if err := writePkglist(filepath.Join(archDir, pkglistFileName), binaryLines, log); err != nil {
		return err
	}
	return writePkglist(filepath.Join(debugDir, pkglistFileName), debugLines, log)
}

// walkPackages calls fn on every non-directory file in the packages directory tree, in lexical
// order. A missing packages directory has no files.
func walkPackages(packagesDir string, fn func(filePath string, kind PackageKind) error) error {
	if !ffs.DirExists(packagesDir) {
		return nil
	}
	return errors.Wrapf(
		filepath.WalkDir(packagesDir, func(filePath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return fn(filePath, ClassifyPackage(d.Name()))
		}),
		"couldn't list packages in %s", packagesDir,
	)
}

func relativeListPath(base, filePath string) (string, error) {
	rel, err := filepath.Rel(base, filePath)
	if err != nil {
		return "", errors.Wrapf(err, "couldn't make %s relative to %s", filePath, base)
	}
	return filepath.ToSlash(rel), nil
}

// writePkglist replaces the package list file through a temporary file, so that the list is never
// seen partially written.
func writePkglist(pkglistPath string, lines []string, log *logrus.Entry) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if err := ffs.WriteFileAtomic(pkglistPath, []byte(b.String())); err != nil {
		return errors.Wrapf(err, "couldn't update pkglist file %s", pkglistPath)
	}
	log.Infof("updating %s ok", pkglistPath)
	return nil
}
