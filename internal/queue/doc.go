// Package queue implements the durable mutation queue: write requests that
// could not reach the network are recorded here and replayed, in enqueue
// order, once connectivity returns. Persistence is a single SQLite file so
// pending operations survive process restarts; an operation is deleted only
// after its remote call confirms success.
package queue
