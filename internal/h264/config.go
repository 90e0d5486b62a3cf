package h264

import (
	"bytes"
	"fmt"
)

// Config is an accepted SPS/PPS pair: everything a decoder needs to start
// on the next IDR picture.
type Config struct {
	sps *SPS
	pps *PPS
}

// NewConfig parses both parameter sets. Either parse failure is returned
// unchanged.
func NewConfig(sps, pps []byte) (*Config, error) {
	s, err := ParseSPS(sps)
	if err != nil {
		return nil, fmt.Errorf("sps: %w", err)
	}
	p, err := ParsePPS(pps)
	if err != nil {
		return nil, fmt.Errorf("pps: %w", err)
	}
	return &Config{sps: s, pps: p}, nil
}

func (c *Config) SPS() *SPS { return c.sps }
func (c *Config) PPS() *PPS { return c.pps }

func (c *Config) Width() uint32  { return c.sps.Width() }
func (c *Config) Height() uint32 { return c.sps.Height() }

// Equal reports whether both configs carry byte-identical parameter sets.
func (c *Config) Equal(o *Config) bool {
	if c == nil || o == nil {
		return c == o
	}
	return bytes.Equal(c.sps.Payload, o.sps.Payload) && bytes.Equal(c.pps.Payload, o.pps.Payload)
}

// CodecString returns the RFC 6381 codec parameter, e.g. "avc1.42E01F".
func (c *Config) CodecString() string {
	return c.sps.CodecString()
}

// ProfileLevelID returns the SDP profile-level-id fmtp value, e.g. "42e01f".
func (c *Config) ProfileLevelID() string {
	return fmt.Sprintf("%02x%02x%02x", c.sps.ProfileIDC, c.sps.ConstraintFlags, c.sps.LevelIDC)
}

// Extradata builds an AVCDecoderConfigurationRecord (ISO 14496-15 5.2.4.1)
// with 4-byte NALU lengths and one SPS and one PPS.
func (c *Config) Extradata() []byte {
	sps, pps := c.sps.Payload, c.pps.Payload

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 1)                     // configurationVersion
	buf = append(buf, c.sps.ProfileIDC)      // AVCProfileIndication
	buf = append(buf, c.sps.ConstraintFlags) // profile_compatibility
	buf = append(buf, c.sps.LevelIDC)        // AVCLevelIndication
	buf = append(buf, 0xFF)                  // lengthSizeMinusOne = 3 | reserved 0xFC
	buf = append(buf, 0xE1)                  // numOfSequenceParameterSets = 1 | reserved 0xE0

	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)

	buf = append(buf, 1) // numOfPictureParameterSets
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)

	return buf
}

func (c *Config) String() string {
	return fmt.Sprintf("%s %dx%d", c.CodecString(), c.Width(), c.Height())
}
