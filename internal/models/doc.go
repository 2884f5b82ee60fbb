// Package models defines the canonical row shapes for the local library catalog.
//
// Every remote payload is normalized into one of these types at the fetch
// boundary; everything downstream (catalog tables, reconciliation, export)
// works on them exclusively:
//
//   - [Playlist] : Playlist metadata with provider snapshot version
//   - [Track] : Song metadata with release year and popularity
//   - [Artist] : Artist metadata with genre set
//   - [PlaylistTrack] : Membership row linking a playlist to a track
//   - [TrackArtist] : Credit row linking a track to an artist with ordering
//   - [StreamingEvent] : One listen from the user's streaming history
//
// All row types implement [Row]. Rows are plain values; serialization lives
// with the catalog (CSV tables) and formatter (JSON/CSV export).
package models
