package controller

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"

	"github.com/ardnew/duckbridge/pkg"
)

// ProvisionImage materializes the backing image at image from seed when
// image does not exist yet. A seed ending in .7z contributes the first file
// in the archive, .gz is decompressed, and anything else is copied as is.
//
// An existing image is never overwritten, and an empty seed is a no-op.
// It reports whether a new image was written.
func ProvisionImage(seed, image string) (bool, error) {
	if seed == "" {
		return false, nil
	}
	if _, err := os.Stat(image); err == nil {
		pkg.LogDebug(pkg.ComponentStorage, "image exists, not provisioning", "image", image)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	src, closeSrc, err := openSeed(seed)
	if err != nil {
		return false, fmt.Errorf("open seed %s: %w", seed, err)
	}
	defer closeSrc()

	tmp, err := os.CreateTemp(filepath.Dir(image), filepath.Base(image)+".*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if err == nil {
		// Pad to a whole block so the last block is addressable.
		if rem := n % BlockSize; rem != 0 {
			_, err = tmp.Write(make([]byte, BlockSize-rem))
		}
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("write image %s: %w", image, err)
	}
	if err := os.Rename(tmp.Name(), image); err != nil {
		return false, err
	}

	pkg.LogInfo(pkg.ComponentStorage, "image provisioned", "seed", seed, "image", image, "bytes", n)
	return true, nil
}

func openSeed(seed string) (io.Reader, func(), error) {
	switch strings.ToLower(filepath.Ext(seed)) {
	case ".7z":
		r, err := sevenzip.OpenReader(seed)
		if err != nil {
			return nil, nil, err
		}
		if len(r.File) == 0 {
			r.Close()
			return nil, nil, fmt.Errorf("%w: empty archive", pkg.ErrInvalidParameter)
		}
		// The first file in the archive is the image.
		rc, err := r.File[0].Open()
		if err != nil {
			r.Close()
			return nil, nil, err
		}
		return rc, func() { rc.Close(); r.Close() }, nil

	case ".gz":
		f, err := os.Open(seed)
		if err != nil {
			return nil, nil, err
		}
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return zr, func() { zr.Close(); f.Close() }, nil

	default:
		f, err := os.Open(seed)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}
}
