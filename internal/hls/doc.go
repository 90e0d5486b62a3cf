// Package hls packages a live stream as low-latency-ish HLS with fMP4
// segments held in memory.
//
// Each session serves a master playlist (index.m3u8), one media playlist
// (video.m3u8), the init segment (init.mp4) and a sliding window of media
// segments (seg<N>.m4s).
package hls
