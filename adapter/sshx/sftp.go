package sshx

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"

	"github.com/kbukum/execkit/errors"
)

// Upload copies a local file or directory tree to the remote host over the
// SFTP subsystem. Directory trees upload with bounded parallelism.
func (a *Adapter) Upload(ctx context.Context, localPath, remotePath string) error {
	return a.withSFTP(ctx, func(client *sftp.Client) error {
		info, err := os.Stat(localPath)
		if err != nil {
			return errors.IO("stat source", err)
		}
		if info.IsDir() {
			return a.uploadTree(ctx, client, localPath, remotePath)
		}
		return uploadFile(ctx, client, localPath, remotePath, info.Mode())
	})
}

// Download copies a remote file or directory tree to the local filesystem.
func (a *Adapter) Download(ctx context.Context, remotePath, localPath string) error {
	return a.withSFTP(ctx, func(client *sftp.Client) error {
		info, err := client.Stat(remotePath)
		if err != nil {
			return errors.IO("stat remote source", err)
		}
		if info.IsDir() {
			return downloadTree(ctx, client, remotePath, localPath)
		}
		return downloadFile(ctx, client, remotePath, localPath, info.Mode())
	})
}

// withSFTP runs fn with an SFTP client on a pooled connection. The SFTP
// channel counts against the connection's session cap.
func (a *Adapter) withSFTP(ctx context.Context, fn func(*sftp.Client) error) error {
	lease, err := a.conns.Acquire(ctx, a.cfg.PoolKey())
	if err != nil {
		return err
	}
	conn := lease.Resource

	conn.mu.Lock()
	if conn.closed || conn.sessions >= conn.cfg.MaxSessions {
		conn.mu.Unlock()
		lease.Release()
		return errors.Transport("connection channel cap reached", nil)
	}
	conn.sessions++
	conn.mu.Unlock()

	client, err := sftp.NewClient(conn.client)
	if err != nil {
		conn.closeSession()
		lease.Discard()
		return errors.Transport("open sftp subsystem", err)
	}

	fnErr := fn(client)
	client.Close()
	conn.closeSession()

	if fnErr != nil && errors.Is(fnErr, errors.KindTransport) {
		lease.Discard()
	} else {
		lease.Release()
	}
	return fnErr
}

func (a *Adapter) uploadTree(ctx context.Context, client *sftp.Client, src, dst string) error {
	type job struct {
		local, remote string
		mode          os.FileMode
	}
	var jobs []job

	err := filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return errors.IO("walk source tree", err)
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return errors.IO("resolve relative path", err)
		}
		remote := path.Join(dst, filepath.ToSlash(rel))
		if d.IsDir() {
			return client.MkdirAll(remote)
		}
		info, err := d.Info()
		if err != nil {
			return errors.IO("stat entry", err)
		}
		jobs = append(jobs, job{local: p, remote: remote, mode: info.Mode()})
		return nil
	})
	if err != nil {
		return err
	}

	sem := make(chan struct{}, a.cfg.TransferConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := uploadFile(ctx, client, j.local, j.remote, j.mode); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(j)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if ctx.Err() != nil {
		return errors.Cancelled("upload").WithCause(ctx.Err())
	}
	return nil
}

func uploadFile(ctx context.Context, client *sftp.Client, local, remote string, mode os.FileMode) error {
	in, err := os.Open(local)
	if err != nil {
		return errors.IO("open source", err)
	}
	defer in.Close()

	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return errors.IO("create remote directory", err)
	}
	out, err := client.Create(remote)
	if err != nil {
		return errors.IO("create remote file", err)
	}

	_, err = io.Copy(out, cancellableReader{ctx: ctx, r: in})
	closeErr := out.Close()
	if err != nil {
		client.Remove(remote)
		if ctx.Err() != nil {
			return errors.Cancelled("upload").WithCause(ctx.Err())
		}
		return errors.IO("upload bytes", err)
	}
	if closeErr != nil {
		client.Remove(remote)
		return errors.IO("flush remote file", closeErr)
	}
	return client.Chmod(remote, mode.Perm())
}

func downloadTree(ctx context.Context, client *sftp.Client, src, dst string) error {
	walker := client.Walk(src)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return errors.IO("walk remote tree", err)
		}
		if ctx.Err() != nil {
			return errors.Cancelled("download").WithCause(ctx.Err())
		}

		rel, err := filepath.Rel(src, walker.Path())
		if err != nil {
			return errors.IO("resolve relative path", err)
		}
		local := filepath.Join(dst, rel)

		if walker.Stat().IsDir() {
			if err := os.MkdirAll(local, 0o755); err != nil {
				return errors.IO("create local directory", err)
			}
			continue
		}
		if err := downloadFile(ctx, client, walker.Path(), local, walker.Stat().Mode()); err != nil {
			return err
		}
	}
	return nil
}

func downloadFile(ctx context.Context, client *sftp.Client, remote, local string, mode os.FileMode) error {
	in, err := client.Open(remote)
	if err != nil {
		return errors.IO("open remote file", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return errors.IO("create local directory", err)
	}
	out, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errors.IO("create local file", err)
	}

	_, err = io.Copy(out, cancellableReader{ctx: ctx, r: in})
	closeErr := out.Close()
	if err != nil {
		os.Remove(local)
		if ctx.Err() != nil {
			return errors.Cancelled("download").WithCause(ctx.Err())
		}
		return errors.IO("download bytes", err)
	}
	if closeErr != nil {
		os.Remove(local)
		return errors.IO("flush local file", closeErr)
	}
	return nil
}

// cancellableReader aborts a transfer when its context is done.
type cancellableReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr cancellableReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
