package util

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PackTar writes localPath (file or tree) into w as a tar stream rooted at
// rootName. Both the Docker archive endpoint and tar-over-exec transfers
// consume this shape.
func PackTar(ctx context.Context, localPath, rootName string, w io.Writer) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	addFile := func(path, name string, fi os.FileInfo) error {
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return fmt.Errorf("build tar header: %w", err)
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if fi.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("pack bytes: %w", err)
		}
		return nil
	}

	if !info.IsDir() {
		return addFile(localPath, rootName, info)
	}

	return filepath.Walk(localPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk source tree: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		name := rootName
		if rel != "." {
			name = rootName + "/" + filepath.ToSlash(rel)
		}
		return addFile(path, name, fi)
	})
}

// UnpackTar extracts entries under rootName from r into localPath,
// refusing entries that would escape the destination.
func UnpackTar(ctx context.Context, r io.Reader, rootName, localPath string) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar stream: %w", err)
		}

		name := strings.TrimPrefix(filepath.ToSlash(hdr.Name), rootName)
		name = strings.TrimPrefix(name, "/")
		dst := localPath
		if name != "" {
			dst = filepath.Join(localPath, filepath.FromSlash(name))
		}
		if rel, err := filepath.Rel(localPath, dst); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("tar entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, os.FileMode(hdr.Mode).Perm()); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return fmt.Errorf("create file: %w", err)
			}
			if _, err := io.Copy(f, tr); err != nil { //nolint:gosec // transfer size is caller-bounded
				f.Close()
				os.Remove(dst)
				return fmt.Errorf("unpack bytes: %w", err)
			}
			if err := f.Close(); err != nil {
				os.Remove(dst)
				return fmt.Errorf("flush file: %w", err)
			}
		}
	}
}
