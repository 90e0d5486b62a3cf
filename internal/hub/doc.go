// Package hub is the distribution fabric: a process-wide registry of live
// streams and the fan-out from each ingest source to any number of
// independently paced consumers.
//
// The ownership chain is Hub -> Stream -> Source -> Track -> Sink. A Source
// publishes Units into a bounded broadcast. Each Track, created lazily per
// requested output codec, relays the Source's Units into its own broadcast,
// which every attached Sink reads. Publishers never block: a Sink that falls
// more than [media.BroadcastCapacity] Units behind loses its oldest Units
// and its next read reports [ErrLagged].
//
// Cancelling a Source stops its Tracks. Closing the Source's broadcast
// stops them too, so either path alone is sufficient for teardown.
package hub
