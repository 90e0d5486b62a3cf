// Package rtc holds the WebRTC plumbing shared by WHIP ingest and WHEP
// playback: the pion API with the supported codecs registered, offer
// inspection and answer negotiation.
package rtc
