// Package lock implements TTL-bounded advisory paragraph locks on Redis.
//
// A lock is the key "<prefix><documentID>:<paragraphID>" holding the owner's
// user ID. The lock is advisory: nothing stops a client that ignores it from
// writing, and ownership is whatever user ID the caller supplies.
//
//	m := lock.NewManager(client, lock.WithTTL(time.Minute))
//	ok, err := m.TryLock(ctx, "doc1", "p1", "alice")
//	...
//	released, err := m.Unlock(ctx, "doc1", "p1", "alice")
//
// # Atomicity
//
// TryLock is a single SET NX PX, so two callers can never both acquire the
// same key. Unlock is a server-side compare-and-delete script: a stale Unlock
// from a previous owner cannot delete a lock someone else acquired after
// expiry.
//
// # Expiry
//
// Expiry is the only recovery for clients that disappear while holding a
// lock. There is no renewal; a client whose edit outlives the TTL must call
// TryLock again once its lock has lapsed.
//
// # Listing
//
// LocksByUser scans the key space and reads each key separately. Keys may
// expire or change hands during the scan, so the result is a best-effort
// snapshot rather than a point-in-time view.
package lock
