package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/target"
)

// Endpoint is one side of a copy.
type Endpoint struct {
	// Target is the dotted target name; empty means the local filesystem.
	Target string
	// Path is the file or directory path inside the endpoint.
	Path string
}

// IsLocal reports whether the endpoint is the local filesystem.
func (e Endpoint) IsLocal() bool { return e.Target == "" }

// ParseEndpoint splits "target:/path" into its parts. A path without a
// target prefix (or with a path-like prefix) is local.
func ParseEndpoint(s string) Endpoint {
	name, path, ok := strings.Cut(s, ":")
	if !ok || name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return Endpoint{Path: s}
	}
	return Endpoint{Target: name, Path: path}
}

// Progress receives completed transfer milestones.
type Progress func(description string)

// Copier dispatches copies between local paths and targets.
type Copier struct {
	registry *target.Registry
	progress Progress
	log      *logger.Logger
}

// New creates a transfer dispatcher. progress may be nil.
func New(registry *target.Registry, progress Progress, log *logger.Logger) *Copier {
	if progress == nil {
		progress = func(string) {}
	}
	return &Copier{
		registry: registry,
		progress: progress,
		log:      log.WithComponent("transfer"),
	}
}

// Copy moves a file or directory tree between two endpoints given in
// "path" or "target:/path" form.
func (c *Copier) Copy(ctx context.Context, src, dst string) error {
	return c.CopyEndpoints(ctx, ParseEndpoint(src), ParseEndpoint(dst))
}

// CopyEndpoints moves a file or directory tree between two parsed
// endpoints.
func (c *Copier) CopyEndpoints(ctx context.Context, src, dst Endpoint) error {
	if src.Path == "" || dst.Path == "" {
		return errors.Config("copy endpoints need a path")
	}

	switch {
	case src.IsLocal() && dst.IsLocal():
		if err := copyLocalTree(ctx, src.Path, dst.Path); err != nil {
			return err
		}

	case src.IsLocal():
		copier, err := c.copierFor(ctx, dst.Target)
		if err != nil {
			return err
		}
		if err := copier.Upload(ctx, src.Path, dst.Path); err != nil {
			return err
		}

	case dst.IsLocal():
		copier, err := c.copierFor(ctx, src.Target)
		if err != nil {
			return err
		}
		if err := copier.Download(ctx, src.Path, dst.Path); err != nil {
			return err
		}

	default:
		// Target to target stages through a local spool directory.
		if err := c.relay(ctx, src, dst); err != nil {
			return err
		}
	}

	c.progress(src.describe() + " -> " + dst.describe())
	c.log.Info("copy finished", logger.Fields(
		"src", src.describe(),
		"dst", dst.describe(),
	))
	return nil
}

func (e Endpoint) describe() string {
	if e.IsLocal() {
		return e.Path
	}
	return e.Target + ":" + e.Path
}

// copierFor resolves a target to its transfer capability.
func (c *Copier) copierFor(ctx context.Context, name string) (adapter.Copier, error) {
	bound, err := c.registry.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	copier, ok := bound.(adapter.Copier)
	if !ok {
		return nil, errors.Configf("target %s does not support file transfer", name)
	}
	return copier, nil
}

// relay stages a target-to-target copy through a temp directory, cleaning
// the spool up afterwards.
func (c *Copier) relay(ctx context.Context, src, dst Endpoint) error {
	spool, err := os.MkdirTemp("", "execkit-copy-*")
	if err != nil {
		return errors.IO("create spool directory", err)
	}
	defer os.RemoveAll(spool)

	staged := filepath.Join(spool, filepath.Base(src.Path))

	from, err := c.copierFor(ctx, src.Target)
	if err != nil {
		return err
	}
	if err := from.Download(ctx, src.Path, staged); err != nil {
		return err
	}

	to, err := c.copierFor(ctx, dst.Target)
	if err != nil {
		return err
	}
	return to.Upload(ctx, staged, dst.Path)
}
