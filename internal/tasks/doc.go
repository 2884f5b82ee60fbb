// Package tasks orchestrates the sync run.
//
// # Pipeline
//
// [Pipeline.Run] executes the six steps in a fixed order under the run lock:
// fetch_library, rename, cleanup, consolidate_yearly, update_current_year,
// descriptions. Progress is checkpointed after every merged page and every
// completed step, so an interrupted run resumes without repeating finished
// work. Every step is idempotent; re-running a completed pipeline changes
// nothing remotely.
//
// # Naming
//
// [Namer] renders and recognizes archive playlist names under the configured
// scheme (owner token, per-kind prefix, separators, capitalization), including
// the legacy monthly and alias-prefixed forms older playlists still carry.
//
// # Reconciliation
//
// [Reconciler] converges one archive playlist toward its desired set: liked
// songs for finds, most-played first-hears for top, unfamiliar first-hears
// for discovery. It diffs against a fresh listing, backs the membership up,
// and applies removals before additions in provider-sized batches.
package tasks
