package processor

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// OutputFactory is a function that creates a writer for a file of the given
// package. The file name has no directory. Output factories typically use
// os.OpenFile to create files but this function allows the behavior to be
// customized.
type OutputFactory func(pkg *Package, filename string) (io.WriteCloser, error)

// DefaultOutputFactory returns the OutputFactory used by Process and
// ProcessAll. If rootDir is blank, files are written to the directory that
// contains the package's sources, replacing rewritten sources in place.
// Otherwise they are written to <rootDir>/<import path>/.
//
// After computing the destination path, os.OpenFile is used to open the file
// for writing (creating the file if necessary, truncating it if it already
// exists).
func DefaultOutputFactory(rootDir string) OutputFactory {
	return func(pkg *Package, filename string) (io.WriteCloser, error) {
		dest, err := determineOutputDir(rootDir, pkg)
		if err != nil {
			return nil, err
		}
		return os.OpenFile(filepath.Join(dest, filename), os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0666)
	}
}

func determineOutputDir(root string, pkg *Package) (string, error) {
	if root == "" {
		if pkg.Dir == "" {
			return "", errors.Errorf("could not determine output directory for package %q", pkg.Path)
		}
		return pkg.Dir, nil
	}
	out := filepath.Join(root, filepath.FromSlash(pkg.Path))
	if err := os.MkdirAll(out, os.ModePerm); err != nil {
		return "", errors.Wrapf(err, "could not create output directory %s", out)
	}
	return out, nil
}

func writeOutput(output OutputFactory, pkg *Package, filename string, content []byte) (err error) {
	w, err := output(pkg, filename)
	if err != nil {
		return errors.Wrapf(err, "could not create %s for package %s", filename, pkg.Path)
	}
	defer func() {
		if closeErr := w.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "could not write %s for package %s", filename, pkg.Path)
		}
	}()
	if _, err := w.Write(content); err != nil {
		return errors.Wrapf(err, "could not write %s for package %s", filename, pkg.Path)
	}
	return nil
}
