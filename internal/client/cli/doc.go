// Package cli provides the estisync command-line client.
//
// It wires configuration, the local SQLite store, a remote backend, the photo
// cache and the sync engine, and exposes them as cobra subcommands:
//
//   - bootstrap: replace local data with a user's remote rows
//   - sync, photos: run one sync cycle or a photo-only pass
//   - watch: keep syncing on an interval, optionally serving metrics
//   - save, delete, enqueue: local mutations that feed the change queue
//   - list, status, clear: inspect or wipe local state
//
// Every command builds an App from the merged configuration and closes it on
// return. See NewRootCmd.
package cli
