package main

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/collab/internal/errors"
	"github.com/vango-dev/collab/pkg/lock"
)

const lockTimeout = 10 * time.Second

func lockCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and administer paragraph locks",
		Long: `Inspect and administer paragraph locks directly in Redis.

Examples:
  collabd lock acquire doc1 p3 alice
  collabd lock owner doc1 p3
  collabd lock list alice
  collabd lock release doc1 p3 alice
  collabd lock force-unlock lock:doc1:p3`,
	}

	cmd.AddCommand(
		lockAcquireCmd(flags),
		lockReleaseCmd(flags),
		lockOwnerCmd(flags),
		lockListCmd(flags),
		lockForceUnlockCmd(flags),
	)
	return cmd
}

// withLocks runs fn against a lock manager built from the loaded config.
func withLocks(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, m *lock.Manager) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	rdb := newRedisClient(cfg)
	defer rdb.Close()
	if err := pingRedis(ctx, rdb, cfg.Redis.Addr); err != nil {
		return err
	}
	return fn(ctx, newLockManager(cfg, rdb))
}

// lockError maps lock manager failures onto coded errors.
func lockError(err error) error {
	if stderrors.Is(err, lock.ErrInvalidKey) {
		return errors.New("L201").Wrap(err)
	}
	return errors.New("R301").Wrap(err)
}

func lockAcquireCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "acquire <document> <paragraph> <user>",
		Short: "Acquire a paragraph lock for a user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, para, user := args[0], args[1], args[2]
			return withLocks(cmd, flags, func(ctx context.Context, m *lock.Manager) error {
				acquired, err := m.TryLock(ctx, doc, para, user)
				if err != nil {
					return lockError(err)
				}
				if !acquired {
					ce := errors.New("L202")
					if owner, ok, err := m.Owner(ctx, doc, para); err == nil && ok {
						ce = ce.WithDetail("Held by " + owner)
					}
					return ce
				}
				success(cmd, "Locked %s:%s for %s (expires in %s)", doc, para, user, m.TTL())
				return nil
			})
		},
	}
}

func lockReleaseCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "release <document> <paragraph> <user>",
		Short: "Release a paragraph lock held by a user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, para, user := args[0], args[1], args[2]
			return withLocks(cmd, flags, func(ctx context.Context, m *lock.Manager) error {
				released, err := m.Unlock(ctx, doc, para, user)
				if err != nil {
					return lockError(err)
				}
				if !released {
					return errors.New("L203").WithDetail(user + " does not hold " + doc + ":" + para)
				}
				success(cmd, "Released %s:%s", doc, para)
				return nil
			})
		},
	}
}

func lockOwnerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "owner <document> <paragraph>",
		Short: "Show who holds a paragraph lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, para := args[0], args[1]
			return withLocks(cmd, flags, func(ctx context.Context, m *lock.Manager) error {
				owner, ok, err := m.Owner(ctx, doc, para)
				if err != nil {
					return lockError(err)
				}
				if !ok {
					info(cmd, "%s:%s is not locked", doc, para)
					return nil
				}
				info(cmd, "%s:%s is locked by %s", doc, para, owner)
				return nil
			})
		},
	}
}

func lockListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <user>",
		Short: "List the paragraph locks a user holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := args[0]
			return withLocks(cmd, flags, func(ctx context.Context, m *lock.Manager) error {
				keys, err := m.LocksByUser(ctx, user)
				if err != nil {
					return lockError(err)
				}
				if len(keys) == 0 {
					info(cmd, "%s holds no locks", user)
					return nil
				}
				for _, k := range keys {
					info(cmd, "%s:%s", k.Document, k.Paragraph)
				}
				return nil
			})
		},
	}
}

func lockForceUnlockCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "force-unlock <key>",
		Short: "Delete a lock regardless of its owner",
		Long: `Delete a lock regardless of its owner. key is the full Redis key,
including the configured prefix (e.g., lock:doc1:p3).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocks(cmd, flags, func(ctx context.Context, m *lock.Manager) error {
				if err := m.ForceUnlock(ctx, args[0]); err != nil {
					return lockError(err)
				}
				success(cmd, "Removed %s", args[0])
				return nil
			})
		},
	}
}
