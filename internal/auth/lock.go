package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// acquireFlowLock takes an exclusive cross-process lock guarding the
// interactive authorization flow for one cache path, so two processes
// sharing a token cache never race duplicate device-code prompts.
// The lock is a sidecar file created with O_EXCL; a leftover lock older
// than staleLockAge is treated as abandoned and stolen.
func acquireFlowLock(ctx context.Context, cachePath string) (release func(), err error) {
	lockPath := cachePath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, err
	}

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire authorization lock: %w", err)
		}

		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(lockPath)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for authorization lock: %v", ErrTimeout, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}
