package transfer

import (
	"context"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/util"
)

// copyLocalTree copies a file or directory tree between host paths.
// Partial destination files are removed on interruption.
func copyLocalTree(ctx context.Context, src, dst string) error {
	if err := util.CopyTree(ctx, src, dst); err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled("copy").WithCause(ctx.Err())
		}
		return errors.IO("copy", err)
	}
	return nil
}
