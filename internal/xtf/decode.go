package xtf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrCorruptStream reports a preamble whose magic is not 0xFACE. The
	// stream offers no way to resynchronize, so decoding must stop.
	ErrCorruptStream = errors.New("xtf: packet does not start with magic 0xFACE")

	// ErrCorruptRecord reports a record whose internal length bookkeeping
	// is inconsistent. The record is unusable, but the caller may skip to
	// the next frame using the preamble's record length and continue.
	ErrCorruptRecord = errors.New("xtf: record length bookkeeping is inconsistent")

	// ErrUnsupportedFormat reports a recognized but unhandled variant,
	// such as a sample width outside 1/2/4/8 or a ping sub-header with no
	// matching channel descriptor.
	ErrUnsupportedFormat = errors.New("xtf: unsupported format variant")
)

// cursor walks a byte slice whose length has already been validated against
// the fixed structure size. Never alias raw memory as a structure; every
// field goes through an explicit little-endian read.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) u8() uint8 {
	v := c.b[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	v := binary.LittleEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	v := binary.LittleEndian.Uint32(c.b[c.off:])
	c.off += 4
	return v
}

func (c *cursor) u64() uint64 {
	v := binary.LittleEndian.Uint64(c.b[c.off:])
	c.off += 8
	return v
}

func (c *cursor) i16() int16 { return int16(c.u16()) }
func (c *cursor) i32() int32 { return int32(c.u32()) }

func (c *cursor) f32() float32 { return math.Float32frombits(c.u32()) }
func (c *cursor) f64() float64 { return math.Float64frombits(c.u64()) }

func (c *cursor) bytes(dst []byte) {
	copy(dst, c.b[c.off:c.off+len(dst)])
	c.off += len(dst)
}

func (c *cursor) skip(n int) { c.off += n }

// DecodePreamble reads the 14-byte common packet prefix and validates the
// magic sentinel. A short buffer is a truncation; a bad magic is fatal for
// the stream.
func DecodePreamble(buf []byte) (PacketPreamble, error) {
	var p PacketPreamble
	if len(buf) < PreambleSize {
		return p, io.ErrUnexpectedEOF
	}
	c := cursor{b: buf}
	p.MagicNumber = c.u16()
	p.HeaderType = HeaderType(c.u8())
	p.SubChannelNumber = c.u8()
	p.NumChansToFollow = c.u16()
	p.Reserved1[0] = c.u16()
	p.Reserved1[1] = c.u16()
	p.NumBytesThisRecord = c.u32()
	if p.MagicNumber != preambleMagic {
		return p, fmt.Errorf("%w (got 0x%04X)", ErrCorruptStream, p.MagicNumber)
	}
	return p, nil
}

func decodeChanInfo(buf []byte) (ChanInfo, error) {
	var ci ChanInfo
	if len(buf) < ChanInfoSize {
		return ci, io.ErrUnexpectedEOF
	}
	c := cursor{b: buf}
	ci.TypeOfChannel = c.u8()
	ci.SubChannelNumber = c.u8()
	ci.CorrectionFlags = c.u16()
	ci.UniPolar = c.u16()
	ci.BytesPerSample = c.u16()
	ci.Reserved = c.u32()
	c.bytes(ci.ChannelName[:])
	ci.VoltScale = c.f32()
	ci.Frequency = c.f32()
	ci.HorizBeamAngle = c.f32()
	ci.TiltAngle = c.f32()
	ci.BeamWidth = c.f32()
	ci.OffsetX = c.f32()
	ci.OffsetY = c.f32()
	ci.OffsetZ = c.f32()
	ci.OffsetYaw = c.f32()
	ci.OffsetPitch = c.f32()
	ci.OffsetRoll = c.f32()
	ci.BeamsPerArray = c.u16()
	c.bytes(ci.ReservedArea2[:])
	return ci, nil
}

// DecodeFileHeader parses the fixed 1024-byte file header and derives the
// sonar and bathymetry channel views. A short buffer is unrecoverable: the
// file is unusable without its header.
func DecodeFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	h := &FileHeader{}
	c := cursor{b: buf}
	h.FileFormat = c.u8()
	h.SystemType = c.u8()
	c.bytes(h.RecordingProgramName[:])
	c.bytes(h.RecordingProgramVersion[:])
	c.bytes(h.SonarName[:])
	h.SonarType = c.u16()
	c.bytes(h.NoteString[:])
	c.bytes(h.ThisFileName[:])
	h.NavUnits = c.u16()
	h.NumberOfSonarChannels = c.u16()
	h.NumberOfBathymetryChannels = c.u16()
	h.NumberOfSnippetChannels = c.u8()
	h.NumberOfForwardLookArrays = c.u8()
	h.NumberOfEchoStrengthChannels = c.u16()
	h.NumberOfInterferometryChannels = c.u8()
	h.Reserved1 = c.u8()
	h.Reserved2 = c.u16()
	h.ReferencePointHeight = c.f32()
	c.bytes(h.ProjectionType[:])
	c.bytes(h.SpheroidType[:])
	h.NavigationLatency = c.i32()
	h.OriginY = c.f32()
	h.OriginX = c.f32()
	h.NavOffsetY = c.f32()
	h.NavOffsetX = c.f32()
	h.NavOffsetZ = c.f32()
	h.NavOffsetYaw = c.f32()
	h.MRUOffsetY = c.f32()
	h.MRUOffsetX = c.f32()
	h.MRUOffsetZ = c.f32()
	h.MRUOffsetYaw = c.f32()
	h.MRUOffsetPitch = c.f32()
	h.MRUOffsetRoll = c.f32()
	for i := range h.ChanInfo {
		ci, err := decodeChanInfo(buf[c.off:])
		if err != nil {
			return nil, err
		}
		h.ChanInfo[i] = ci
		c.skip(ChanInfoSize)
	}

	n := h.ChannelCount()
	if n > maxChannels {
		n = maxChannels
	}
	for i := 0; i < n; i++ {
		ci := &h.ChanInfo[i]
		switch ci.TypeOfChannel {
		case ChannelSubbottom, ChannelPort, ChannelStbd:
			h.SonarChannels = append(h.SonarChannels, ci)
		case ChannelBathy:
			h.BathyChannels = append(h.BathyChannels, ci)
		}
	}
	return h, nil
}

func decodePingChanHeader(buf []byte) (PingChanHeader, error) {
	var p PingChanHeader
	if len(buf) < PingChanHeaderSize {
		return p, io.ErrUnexpectedEOF
	}
	c := cursor{b: buf}
	p.ChannelNumber = c.u16()
	p.DownsampleMethod = c.u16()
	p.SlantRange = c.f32()
	p.GroundRange = c.f32()
	p.TimeDelay = c.f32()
	p.TimeDuration = c.f32()
	p.SecondsPerPing = c.f32()
	p.ProcessingFlags = c.u16()
	p.Frequency = c.u16()
	p.InitialGainCode = c.u16()
	p.GainCode = c.u16()
	p.BandWidth = c.u16()
	p.ContactNumber = c.u32()
	p.ContactClassification = c.u16()
	p.ContactSubNumber = c.u8()
	p.ContactType = c.u8()
	p.NumSamples = c.u32()
	p.MillivoltScale = c.u16()
	p.ContactTimeOffTrack = c.f32()
	p.ContactCloseNumber = c.u8()
	p.Reserved2 = c.u8()
	p.FixedVSOP = c.f32()
	p.Weight = c.i16()
	c.bytes(p.ReservedSpace[:])
	return p, nil
}

func decodePingHeader(buf []byte) (PingHeader, error) {
	var h PingHeader
	if len(buf) < PingHeaderSize {
		return h, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return h, err
	}
	h.Preamble = pre
	c := cursor{b: buf, off: PreambleSize}
	h.Year = c.u16()
	h.Month = c.u8()
	h.Day = c.u8()
	h.Hour = c.u8()
	h.Minute = c.u8()
	h.Second = c.u8()
	h.HSeconds = c.u8()
	h.JulianDay = c.u16()
	h.EventNumber = c.u32()
	h.PingNumber = c.u32()
	h.SoundVelocity = c.f32()
	h.OceanTide = c.f32()
	h.Reserved2 = c.u32()
	h.ConductivityFreq = c.f32()
	h.TemperatureFreq = c.f32()
	h.PressureFreq = c.f32()
	h.PressureTemp = c.f32()
	h.Conductivity = c.f32()
	h.WaterTemperature = c.f32()
	h.Pressure = c.f32()
	h.ComputedSoundVelocity = c.f32()
	h.MagX = c.f32()
	h.MagY = c.f32()
	h.MagZ = c.f32()
	h.AuxVal1 = c.f32()
	h.AuxVal2 = c.f32()
	h.AuxVal3 = c.f32()
	h.AuxVal4 = c.f32()
	h.AuxVal5 = c.f32()
	h.AuxVal6 = c.f32()
	h.SpeedLog = c.f32()
	h.Turbidity = c.f32()
	h.ShipSpeed = c.f32()
	h.ShipGyro = c.f32()
	h.ShipYcoordinate = c.f64()
	h.ShipXcoordinate = c.f64()
	h.ShipAltitude = c.u16()
	h.ShipDepth = c.u16()
	h.FixTimeHour = c.u8()
	h.FixTimeMinute = c.u8()
	h.FixTimeSecond = c.u8()
	h.FixTimeHsecond = c.u8()
	h.SensorSpeed = c.f32()
	h.KP = c.f32()
	h.SensorYcoordinate = c.f64()
	h.SensorXcoordinate = c.f64()
	h.SonarStatus = c.u16()
	h.RangeToFish = c.u16()
	h.BearingToFish = c.u16()
	h.CableOut = c.u16()
	h.Layback = c.f32()
	h.CableTension = c.f32()
	h.SensorDepth = c.f32()
	h.SensorPrimaryAltitude = c.f32()
	h.SensorAuxAltitude = c.f32()
	h.SensorPitch = c.f32()
	h.SensorRoll = c.f32()
	h.SensorHeading = c.f32()
	h.Heave = c.f32()
	h.Yaw = c.f32()
	h.AttitudeTimeTag = c.u32()
	h.DOT = c.f32()
	h.NavFixMilliseconds = c.u32()
	h.ComputerClockHour = c.u8()
	h.ComputerClockMinute = c.u8()
	h.ComputerClockSecond = c.u8()
	h.ComputerClockHsec = c.u8()
	h.FishPositionDeltaX = c.i16()
	h.FishPositionDeltaY = c.i16()
	h.FishPositionErrorCode = c.u8()
	h.OptionalOffset = c.u32()
	h.CableOutHundredths = c.u8()
	c.bytes(h.ReservedSpace2[:])
	return h, nil
}

func decodeAttitude(buf []byte) (*AttitudeData, error) {
	if len(buf) < AttitudeSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	a := &AttitudeData{Preamble: pre}
	c := cursor{b: buf, off: PreambleSize}
	a.Reserved2[0] = c.u32()
	a.Reserved2[1] = c.u32()
	a.EpochMicroseconds = c.u32()
	a.SourceEpoch = c.u32()
	a.Pitch = c.f32()
	a.Roll = c.f32()
	a.Heave = c.f32()
	a.Yaw = c.f32()
	a.TimeTag = c.u32()
	a.Heading = c.f32()
	a.Year = c.u16()
	a.Month = c.u8()
	a.Day = c.u8()
	a.Hour = c.u8()
	a.Minute = c.u8()
	a.Second = c.u8()
	a.Millisecond = c.u16()
	a.Reserved3 = c.u8()
	return a, nil
}

func decodeNotes(buf []byte) (*NotesHeader, error) {
	if len(buf) < NotesSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	n := &NotesHeader{Preamble: pre}
	c := cursor{b: buf, off: PreambleSize}
	n.Year = c.u16()
	n.Month = c.u8()
	n.Day = c.u8()
	n.Hour = c.u8()
	n.Minute = c.u8()
	n.Second = c.u8()
	c.bytes(n.ReservedBytes[:])
	c.bytes(n.NotesText[:])
	return n, nil
}

func decodeRawSerialHeader(buf []byte) (RawSerialHeader, error) {
	var h RawSerialHeader
	if len(buf) < RawSerialFixedSize {
		return h, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return h, err
	}
	h.Preamble = pre
	c := cursor{b: buf, off: PreambleSize}
	h.Year = c.u16()
	h.Month = c.u8()
	h.Day = c.u8()
	h.Hour = c.u8()
	h.Minute = c.u8()
	h.Second = c.u8()
	h.HSeconds = c.u8()
	h.JulianDay = c.u16()
	h.TimeTag = c.u32()
	h.StringSize = c.u16()
	return h, nil
}

func decodeNavigation(buf []byte) (*Navigation, error) {
	if len(buf) < NavigationSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	n := &Navigation{Preamble: pre}
	c := cursor{b: buf, off: PreambleSize}
	n.Year = c.u16()
	n.Month = c.u8()
	n.Day = c.u8()
	n.Hour = c.u8()
	n.Minute = c.u8()
	n.Second = c.u8()
	n.Microsecond = c.u32()
	n.SourceEpoch = c.u32()
	n.TimeTag = c.u32()
	n.RawYcoordinate = c.f64()
	n.RawXcoordinate = c.f64()
	n.RawAltitude = c.f64()
	n.TimeFlag = c.u8()
	c.bytes(n.Reserved2[:])
	return n, nil
}

func decodePosRawNavigation(buf []byte) (*PosRawNavigation, error) {
	if len(buf) < PosRawNavSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	p := &PosRawNavigation{Preamble: pre}
	c := cursor{b: buf, off: PreambleSize}
	p.Year = c.u16()
	p.Month = c.u8()
	p.Day = c.u8()
	p.Hour = c.u8()
	p.Minute = c.u8()
	p.Second = c.u8()
	p.Microsecond = c.u16()
	p.RawYcoordinate = c.f64()
	p.RawXcoordinate = c.f64()
	p.RawAltitude = c.f64()
	p.Pitch = c.f32()
	p.Roll = c.f32()
	p.Heave = c.f32()
	p.Heading = c.f32()
	p.Reserved2 = c.u8()
	return p, nil
}

func decodeGyro(buf []byte) (*Gyro, error) {
	if len(buf) < GyroSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	g := &Gyro{Preamble: pre}
	c := cursor{b: buf, off: PreambleSize}
	g.Year = c.u16()
	g.Month = c.u8()
	g.Day = c.u8()
	g.Hour = c.u8()
	g.Minute = c.u8()
	g.Second = c.u8()
	g.Microsecond = c.u32()
	g.SourceEpoch = c.u32()
	g.TimeTag = c.u32()
	g.Gyro = c.f32()
	g.TimeFlag = c.u8()
	c.bytes(g.Reserved1[:])
	return g, nil
}

func decodeQPSSingleBeam(buf []byte) (*QPSSingleBeam, error) {
	if len(buf) < QPSSingleBeamSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	q := &QPSSingleBeam{Preamble: pre}
	c := cursor{b: buf, off: PreambleSize}
	q.TimeTag = c.u32()
	q.Id = c.i32()
	q.SoundVelocity = c.f32()
	q.Intensity = c.f32()
	q.Quality = c.i32()
	q.TwoWayTravelTime = c.f32()
	q.Year = c.u16()
	q.Month = c.u8()
	q.Day = c.u8()
	q.Hour = c.u8()
	q.Minute = c.u8()
	q.Second = c.u8()
	q.Millisecond = c.u16()
	c.bytes(q.Reserved2[:])
	return q, nil
}

// decodeRawCustom interprets the vendor escape layout. The manufacturer and
// packet identifiers overlay the sub-channel and channel-count region of the
// common preamble; the vendor's own record length sits at offset 14, after
// the standard slot used for framing.
func decodeRawCustom(buf []byte) (*RawCustomHeader, error) {
	if len(buf) < RawCustomFixedSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	r := &RawCustomHeader{Preamble: pre}
	r.ManufacturerID = buf[3]
	r.SonarID = binary.LittleEndian.Uint16(buf[4:6])
	r.PacketID[0] = binary.LittleEndian.Uint16(buf[6:8])
	r.PacketID[1] = binary.LittleEndian.Uint16(buf[8:10])
	c := cursor{b: buf, off: PreambleSize}
	r.NumBytesThisRecord = c.u32()
	r.Id = c.i32()
	r.SoundVelocity = c.f32()
	r.Intensity = c.f32()
	r.Quality = c.i32()
	r.TwoWayTravelTime = c.f32()
	r.Year = c.u16()
	r.Month = c.u8()
	r.Day = c.u8()
	r.Hour = c.u8()
	r.Minute = c.u8()
	r.Second = c.u8()
	r.Millisecond = c.u16()
	c.bytes(r.Reserved2[:])
	return r, nil
}

func decodeHighSpeedSensor(buf []byte) (*HighSpeedSensor, error) {
	if len(buf) < HighSpeedSensorSize {
		return nil, io.ErrUnexpectedEOF
	}
	pre, err := DecodePreamble(buf)
	if err != nil {
		return nil, err
	}
	h := &HighSpeedSensor{Preamble: pre}
	c := cursor{b: buf, off: PreambleSize}
	h.Year = c.u16()
	h.Month = c.u8()
	h.Day = c.u8()
	h.Hour = c.u8()
	h.Minute = c.u8()
	h.Second = c.u8()
	h.HSeconds = c.u8()
	h.NumSensorBytes = c.u32()
	h.RelativeBathyPingNum = c.u32()
	c.bytes(h.Reserved3[:])
	return h, nil
}

func decodeBeamXYZA(buf []byte) (BeamXYZA, error) {
	var b BeamXYZA
	if len(buf) < BeamXYZASize {
		return b, io.ErrUnexpectedEOF
	}
	c := cursor{b: buf}
	b.PosOffsetTrX = c.f64()
	b.PosOffsetTrY = c.f64()
	b.Depth = c.f32()
	b.Time = c.f64()
	b.Amplitude = c.i16()
	b.Quality = c.u8()
	return b, nil
}
