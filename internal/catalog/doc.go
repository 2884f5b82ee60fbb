// Package catalog persists the local library cache.
//
// Each entity kind lives in one CSV table under the catalog directory,
// published atomically on every write so a crash mid-merge leaves the
// previous version intact. Merges are upserts keyed per entity; rows are
// never physically deleted, only flagged stale after a complete remote
// listing proves them gone upstream. Insertion order is first-seen and
// survives merges, which keeps diffs over the tables deterministic.
//
// The package also owns the run-scoped stores next to the tables:
//
//   - [CheckpointStore] : resumable pipeline progress, persisted as TOML
//   - [BackupStore] : pre-mutation membership snapshots, one CSV per backup
//   - [Lock] : the run lock that rejects concurrent sync invocations
//
// Writes follow single-writer discipline: only a pipeline run holding the
// [Lock] may call Merge or MarkAbsent. Readers always see the last published
// table version.
package catalog
