// Package h264 parses the H.264 syntax a relay needs to understand: NAL unit
// headers, Sequence and Picture Parameter Sets, and Annex B byte streams.
//
// Parameter sets keep their raw payload verbatim so they can be re-emitted
// byte-identical in avcC extradata or in-band ahead of IDR pictures. A parsed
// SPS/PPS pair is wrapped in a [Config].
package h264
