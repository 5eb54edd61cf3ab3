package xtf

import (
	"fmt"
	"io"
)

// DecodeSNP0 frames a bathymetry snippet ping header. Only framing is in
// scope: HeaderSize and DataSize bound the vendor payload that follows, and
// that payload is not interpreted here.
func DecodeSNP0(buf []byte) (*SNP0, error) {
	if len(buf) < SNP0Size {
		return nil, io.ErrUnexpectedEOF
	}
	c := cursor{b: buf}
	s := &SNP0{}
	s.ID = c.u32()
	if s.ID != SNP0Magic {
		return nil, fmt.Errorf("%w: snippet frame id 0x%08X is not SNP0", ErrCorruptStream, s.ID)
	}
	s.HeaderSize = c.u16()
	s.DataSize = c.u16()
	s.PingNumber = c.u32()
	s.Seconds = c.u32()
	s.Millisec = c.u32()
	s.Latency = c.u16()
	s.SonarID[0] = c.u16()
	s.SonarID[1] = c.u16()
	s.SonarModel = c.u16()
	s.Frequency = c.u16()
	s.SSpeed = c.u16()
	s.SampleRate = c.u16()
	s.PingRate = c.u16()
	s.Range = c.u16()
	s.Power = c.u16()
	s.Gain = c.u16()
	s.PulseWidth = c.u16()
	s.Spread = c.u16()
	s.Absorb = c.u16()
	s.Proj = c.u16()
	s.ProjWidth = c.u16()
	s.SpacingNum = c.u16()
	s.SpacingDen = c.u16()
	s.ProjAngle = c.i16()
	s.MinRange = c.u16()
	s.MaxRange = c.u16()
	s.MinDepth = c.u16()
	s.MaxDepth = c.u16()
	s.Filters = c.u16()
	s.Flags[0] = c.u8()
	s.Flags[1] = c.u8()
	s.HeadTemp = c.i16()
	s.BeamCnt = c.u16()
	return s, nil
}

// DecodeSNP1 frames one beam's snippet time series header.
func DecodeSNP1(buf []byte) (*SNP1, error) {
	if len(buf) < SNP1Size {
		return nil, io.ErrUnexpectedEOF
	}
	c := cursor{b: buf}
	s := &SNP1{}
	s.ID = c.u32()
	if s.ID != SNP1Magic {
		return nil, fmt.Errorf("%w: snippet frame id 0x%08X is not SNP1", ErrCorruptStream, s.ID)
	}
	s.HeaderSize = c.u16()
	s.DataSize = c.u16()
	s.PingNumber = c.u32()
	s.Beam = c.u16()
	s.SnipSamples = c.u16()
	s.GainStart = c.u16()
	s.GainEnd = c.u16()
	s.FragOffset = c.u16()
	s.FragSamples = c.u16()
	return s, nil
}
