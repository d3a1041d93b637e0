package release

import (
	"archive/tar"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	corerelease "github.com/artpar/realty-collector/internal/core/release"
)

// BuildContext is the tar archive sent to the Docker daemon.
type BuildContext struct {
	Archive  []byte
	Files    int
	Excluded []string // excluded paths that were present
}

// PrepareContext archives the build context directory, leaving out the
// spec's excluded paths. The directory itself is not modified.
func PrepareContext(spec corerelease.BuildSpec) (*BuildContext, error) {
	info, err := os.Stat(spec.ContextDir)
	if err != nil || !info.IsDir() {
		return nil, NewReleaseError("PrepareContext", "context", spec.ContextDir, "not a directory", ErrContextNotFound)
	}

	dockerfile := filepath.ToSlash(filepath.Clean(spec.Dockerfile))
	if spec.Excluded(dockerfile) {
		return nil, NewReleaseError("PrepareContext", "context", spec.ContextDir, "dockerfile "+dockerfile+" is excluded", ErrDockerfileNotFound)
	}
	if _, err := os.Stat(filepath.Join(spec.ContextDir, spec.Dockerfile)); err != nil {
		return nil, NewReleaseError("PrepareContext", "context", spec.ContextDir, "missing "+dockerfile, ErrDockerfileNotFound)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	bc := &BuildContext{}

	err = filepath.WalkDir(spec.ContextDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(spec.ContextDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if spec.Excluded(rel) {
			bc.Excluded = append(bc.Excluded, rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		bc.Files++
		return nil
	})
	if err == nil {
		err = tw.Close()
	}
	if err != nil {
		return nil, NewReleaseError("PrepareContext", "context", spec.ContextDir, err.Error(), err)
	}

	bc.Archive = buf.Bytes()
	return bc, nil
}
