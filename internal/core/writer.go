package core

import (
	"context"
	"fmt"
	"time"
)

// writeSnapshot runs src through the coercion and timezone transforms
// and installs the result at path. The store guarantees the install is
// atomic; any previous snapshot survives a failure mid-write.
func (s *SyncService) writeSnapshot(ctx context.Context, path string, src RowSource, rules Rules, lastModified time.Time) error {
	out := NewTransformSource(src, rules, s.loc)
	defer out.Close()
	if err := s.store.Write(ctx, path, out, lastModified); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	s.logger.Info("snapshot written", "path", path, "last_modified", lastModified)
	return nil
}
