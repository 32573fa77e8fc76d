// Package lock coordinates concurrent mutations of the same logical record
// set.
//
// A resource set is identified by (collection, criteria); its lock key is
// criteria.Key. Two requests contend when criteria.Overlaps says they may
// select a common record.
//
// PESSIMISTIC MODE:
//
//	Lock    → granted immediately, or queued FIFO behind overlapping
//	          holders and earlier waiters
//	Unlock  → hands the lock directly to the next eligible waiters
//	MaxHold → a lock held too long is reclaimed; the holder's token turns
//	          invalid and the waiter it unblocks gets *StaleLockReleasedError
//	          together with its token
//
// OPTIMISTIC MODE:
//
//	Begin  → deep-copied snapshot of the current records
//	Touch  → every mutation records what it wrote
//	Commit → *StaleStateError if an overlapping write happened after Begin
//
// Every grant, release, reclaim, snapshot, and write takes a number from one
// logical clock, which makes orderings observable in tests.
package lock
