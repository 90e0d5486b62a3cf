// Package fmp4 writes H.264 video and Opus audio as fragmented MP4.
//
// A [Builder] groups Units into access units and access units into GOPs.
// An [AudioBuilder] times Opus packets. A [Muxer] encodes the init segment
// from the stream's parameter sets and one moof/mdat fragment per batch of
// samples.
package fmp4
