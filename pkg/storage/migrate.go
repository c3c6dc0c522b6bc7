package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/testnet-deploy/pkg/log"
)

// MigrateOptions control a Migrate run
type MigrateOptions struct {
	// Prefix restricts the keys copied
	Prefix string
	// DryRun lists what would be copied without writing
	DryRun bool
	// Validate rejects objects that should not be copied; rejected objects
	// are skipped with a warning
	Validate func(key string, data []byte) error
	Out      io.Writer
}

// MigrateResult counts the objects of one Migrate run
type MigrateResult struct {
	Found   int
	Copied  int
	Skipped int
}

// Migrate copies every object of bucket from src to dst. Objects in src are
// never removed, so a failed migration can be rerun.
func Migrate(ctx context.Context, src, dst ObjectStore, bucket string, opts MigrateOptions) (MigrateResult, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	logger := log.WithComponent("storage.migrate").With().Str("bucket", bucket).Logger()

	var result MigrateResult
	keys, err := src.List(ctx, bucket, opts.Prefix)
	if err != nil {
		return result, fmt.Errorf("failed to list %s: %w", bucket, err)
	}
	result.Found = len(keys)
	if len(keys) == 0 {
		fmt.Fprintf(out, "✓ No objects found in %s\n", bucket)
		return result, nil
	}
	fmt.Fprintf(out, "Found %d objects to migrate in %s\n", len(keys), bucket)

	if opts.DryRun {
		fmt.Fprintln(out, "[DRY RUN] Would copy:")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s\n", key)
		}
		return result, nil
	}

	for _, key := range keys {
		data, err := src.Get(ctx, bucket, key)
		if err != nil {
			return result, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if opts.Validate != nil {
			if err := opts.Validate(key, data); err != nil {
				fmt.Fprintf(out, "⚠ Warning: Skipping %s: %v\n", key, err)
				result.Skipped++
				continue
			}
		}
		if err := dst.Put(ctx, bucket, key, data); err != nil {
			return result, fmt.Errorf("failed to copy %s: %w", key, err)
		}
		result.Copied++
		logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Copied object")
		if result.Copied%10 == 0 {
			fmt.Fprintf(out, "  Migrated %d/%d...\n", result.Copied, len(keys))
		}
	}
	fmt.Fprintf(out, "✓ Migrated %d/%d objects\n", result.Copied, len(keys))
	return result, nil
}
