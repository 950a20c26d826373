// Package history persists command outcomes to the local SQLite store.
//
// Every dispatched brightness command lands here as one row: which
// device, what level, whether the gateway acknowledged it, how long
// the round trip took, and whether it ran simulated. The rows back
// post-hoc diagnosis of flaky gateways and feed the retention prune.
//
// Store writes synchronously. The command path should record through
// Writer instead, which buffers entries on a channel and writes from a
// background goroutine so a slow disk never delays a light.
package history
