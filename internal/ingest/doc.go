// Package ingest turns inbound RTP into Units on a hub Stream.
//
// A [Session] owns one hub Stream for the lifetime of a publisher
// connection. Each remote track becomes a Source with its own read loop,
// depacketizer and receiver statistics. While the session runs it sends
// periodic RTCP feedback toward the publisher: a PLI for video tracks, a
// REMB bitrate hint and a Receiver Report for every track.
package ingest
