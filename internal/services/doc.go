// Package services is the remote-access layer.
//
// # Service Interface
//
// [Service] is the full remote surface the sync pipeline and reconciler work
// against: paginated collection reads plus the playlist mutation endpoints.
// [SpotifyService] implements it against the Spotify Web API.
//
// # Pagination
//
// Collections are walked through [Stream], a lazy pull iterator: each Next
// fetches one page, normalized into the catalog row shapes before it is
// yielded. Cursors are the provider's opaque next-page URLs; a stream built
// from a persisted cursor resumes with no repeated or skipped items. A
// failure mid-stream surfaces as a [*StreamError] carrying the last
// successful cursor for checkpointed resume.
//
// # Normalization
//
// Provider payloads are converted to [models] rows at this boundary and
// nowhere else; unknown upstream fields are dropped here. Membership pages
// yield track, artist and credit rows ahead of the membership rows that
// reference them, so pages merge safely in row order.
//
// # Transport
//
// Every request flows through the chain [NewHTTPClient] assembles: oauth2
// bearer auth (refreshed through the token endpoint, no browser flow), the
// bbolt GET response cache, and innermost the shared rate limiter.
package services
