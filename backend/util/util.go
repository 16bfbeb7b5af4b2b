package util

import (
	"io"

	"github.com/spf13/afero"
)

// CopyFile copies srcPath to dstPath on fs, replacing dstPath if it exists.
func CopyFile(fs afero.Fs, srcPath, dstPath string) error {
	fin, err := fs.Open(srcPath)
	if err != nil {
		return err
	}
	defer fin.Close()

	fout, err := fs.Create(dstPath)
	if err != nil {
		return err
	}

	if _, err = io.Copy(fout, fin); err != nil {
		fout.Close()
		return err
	}
	return fout.Close()
}
