// Package syncer drains the mutation queue when connectivity returns. A
// tagged trigger selects which sub-tasks run: evaluation replay, user-data
// replay, and the read-through refresh list. Queues replay sequentially in
// enqueue order to preserve causal ordering; distinct sub-tasks run
// concurrently with each other.
package syncer
