// Package egress consumes a hub Stream on behalf of one viewer or writer.
//
// A [Session] attaches one Sink per Source, gates delivery on the first
// video keyframe and hands Units to a [Handler]. The recorder, the HLS
// packager and WHEP peers are all Handlers. [Packetizer] turns Units back
// into RTP for WebRTC delivery.
package egress
