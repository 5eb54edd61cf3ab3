package xtf

import (
	"encoding/binary"
	"math"
)

// writer fills a fixed-size buffer field by field, mirroring cursor.
type writer struct {
	b   []byte
	off int
}

func (w *writer) u8(v uint8) {
	w.b[w.off] = v
	w.off++
}

func (w *writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.b[w.off:], v)
	w.off += 2
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.b[w.off:], v)
	w.off += 4
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.b[w.off:], v)
	w.off += 8
}

func (w *writer) i16(v int16) { w.u16(uint16(v)) }
func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }
func (w *writer) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *writer) bytes(src []byte) {
	copy(w.b[w.off:], src)
	w.off += len(src)
}

// NewFileHeader returns a header with the compatibility defaults old viewers
// expect: format byte 0x7B, system type 1, and the legacy per-channel sample
// count of 1024.
func NewFileHeader() *FileHeader {
	h := &FileHeader{FileFormat: 0x7B, SystemType: 1}
	for i := range h.ChanInfo {
		h.ChanInfo[i].Reserved = 1024
	}
	return h
}

// EncodePreamble serializes the 14-byte packet prefix.
func EncodePreamble(p PacketPreamble) []byte {
	buf := make([]byte, PreambleSize)
	w := writer{b: buf}
	w.u16(p.MagicNumber)
	w.u8(uint8(p.HeaderType))
	w.u8(p.SubChannelNumber)
	w.u16(p.NumChansToFollow)
	w.u16(p.Reserved1[0])
	w.u16(p.Reserved1[1])
	w.u32(p.NumBytesThisRecord)
	return buf
}

func encodeChanInfo(w *writer, ci *ChanInfo) {
	w.u8(ci.TypeOfChannel)
	w.u8(ci.SubChannelNumber)
	w.u16(ci.CorrectionFlags)
	w.u16(ci.UniPolar)
	w.u16(ci.BytesPerSample)
	w.u32(ci.Reserved)
	w.bytes(ci.ChannelName[:])
	w.f32(ci.VoltScale)
	w.f32(ci.Frequency)
	w.f32(ci.HorizBeamAngle)
	w.f32(ci.TiltAngle)
	w.f32(ci.BeamWidth)
	w.f32(ci.OffsetX)
	w.f32(ci.OffsetY)
	w.f32(ci.OffsetZ)
	w.f32(ci.OffsetYaw)
	w.f32(ci.OffsetPitch)
	w.f32(ci.OffsetRoll)
	w.u16(ci.BeamsPerArray)
	w.bytes(ci.ReservedArea2[:])
}

// EncodeFileHeader serializes the fixed 1024-byte file header.
func EncodeFileHeader(h *FileHeader) []byte {
	buf := make([]byte, FileHeaderSize)
	w := writer{b: buf}
	w.u8(h.FileFormat)
	w.u8(h.SystemType)
	w.bytes(h.RecordingProgramName[:])
	w.bytes(h.RecordingProgramVersion[:])
	w.bytes(h.SonarName[:])
	w.u16(h.SonarType)
	w.bytes(h.NoteString[:])
	w.bytes(h.ThisFileName[:])
	w.u16(h.NavUnits)
	w.u16(h.NumberOfSonarChannels)
	w.u16(h.NumberOfBathymetryChannels)
	w.u8(h.NumberOfSnippetChannels)
	w.u8(h.NumberOfForwardLookArrays)
	w.u16(h.NumberOfEchoStrengthChannels)
	w.u8(h.NumberOfInterferometryChannels)
	w.u8(h.Reserved1)
	w.u16(h.Reserved2)
	w.f32(h.ReferencePointHeight)
	w.bytes(h.ProjectionType[:])
	w.bytes(h.SpheroidType[:])
	w.i32(h.NavigationLatency)
	w.f32(h.OriginY)
	w.f32(h.OriginX)
	w.f32(h.NavOffsetY)
	w.f32(h.NavOffsetX)
	w.f32(h.NavOffsetZ)
	w.f32(h.NavOffsetYaw)
	w.f32(h.MRUOffsetY)
	w.f32(h.MRUOffsetX)
	w.f32(h.MRUOffsetZ)
	w.f32(h.MRUOffsetYaw)
	w.f32(h.MRUOffsetPitch)
	w.f32(h.MRUOffsetRoll)
	for i := range h.ChanInfo {
		encodeChanInfo(&w, &h.ChanInfo[i])
	}
	return buf
}

// EncodePingChanHeader serializes one 64-byte channel sub-header.
func EncodePingChanHeader(p PingChanHeader) []byte {
	buf := make([]byte, PingChanHeaderSize)
	w := writer{b: buf}
	w.u16(p.ChannelNumber)
	w.u16(p.DownsampleMethod)
	w.f32(p.SlantRange)
	w.f32(p.GroundRange)
	w.f32(p.TimeDelay)
	w.f32(p.TimeDuration)
	w.f32(p.SecondsPerPing)
	w.u16(p.ProcessingFlags)
	w.u16(p.Frequency)
	w.u16(p.InitialGainCode)
	w.u16(p.GainCode)
	w.u16(p.BandWidth)
	w.u32(p.ContactNumber)
	w.u16(p.ContactClassification)
	w.u8(p.ContactSubNumber)
	w.u8(p.ContactType)
	w.u32(p.NumSamples)
	w.u16(p.MillivoltScale)
	w.f32(p.ContactTimeOffTrack)
	w.u8(p.ContactCloseNumber)
	w.u8(p.Reserved2)
	w.f32(p.FixedVSOP)
	w.i16(p.Weight)
	w.bytes(p.ReservedSpace[:])
	return buf
}

// EncodePingHeader serializes the 256-byte ping header.
func EncodePingHeader(h *PingHeader) []byte {
	buf := make([]byte, PingHeaderSize)
	copy(buf, EncodePreamble(h.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u16(h.Year)
	w.u8(h.Month)
	w.u8(h.Day)
	w.u8(h.Hour)
	w.u8(h.Minute)
	w.u8(h.Second)
	w.u8(h.HSeconds)
	w.u16(h.JulianDay)
	w.u32(h.EventNumber)
	w.u32(h.PingNumber)
	w.f32(h.SoundVelocity)
	w.f32(h.OceanTide)
	w.u32(h.Reserved2)
	w.f32(h.ConductivityFreq)
	w.f32(h.TemperatureFreq)
	w.f32(h.PressureFreq)
	w.f32(h.PressureTemp)
	w.f32(h.Conductivity)
	w.f32(h.WaterTemperature)
	w.f32(h.Pressure)
	w.f32(h.ComputedSoundVelocity)
	w.f32(h.MagX)
	w.f32(h.MagY)
	w.f32(h.MagZ)
	w.f32(h.AuxVal1)
	w.f32(h.AuxVal2)
	w.f32(h.AuxVal3)
	w.f32(h.AuxVal4)
	w.f32(h.AuxVal5)
	w.f32(h.AuxVal6)
	w.f32(h.SpeedLog)
	w.f32(h.Turbidity)
	w.f32(h.ShipSpeed)
	w.f32(h.ShipGyro)
	w.f64(h.ShipYcoordinate)
	w.f64(h.ShipXcoordinate)
	w.u16(h.ShipAltitude)
	w.u16(h.ShipDepth)
	w.u8(h.FixTimeHour)
	w.u8(h.FixTimeMinute)
	w.u8(h.FixTimeSecond)
	w.u8(h.FixTimeHsecond)
	w.f32(h.SensorSpeed)
	w.f32(h.KP)
	w.f64(h.SensorYcoordinate)
	w.f64(h.SensorXcoordinate)
	w.u16(h.SonarStatus)
	w.u16(h.RangeToFish)
	w.u16(h.BearingToFish)
	w.u16(h.CableOut)
	w.f32(h.Layback)
	w.f32(h.CableTension)
	w.f32(h.SensorDepth)
	w.f32(h.SensorPrimaryAltitude)
	w.f32(h.SensorAuxAltitude)
	w.f32(h.SensorPitch)
	w.f32(h.SensorRoll)
	w.f32(h.SensorHeading)
	w.f32(h.Heave)
	w.f32(h.Yaw)
	w.u32(h.AttitudeTimeTag)
	w.f32(h.DOT)
	w.u32(h.NavFixMilliseconds)
	w.u8(h.ComputerClockHour)
	w.u8(h.ComputerClockMinute)
	w.u8(h.ComputerClockSecond)
	w.u8(h.ComputerClockHsec)
	w.i16(h.FishPositionDeltaX)
	w.i16(h.FishPositionDeltaY)
	w.u8(h.FishPositionErrorCode)
	w.u32(h.OptionalOffset)
	w.u8(h.CableOutHundredths)
	w.bytes(h.ReservedSpace2[:])
	return buf
}

// EncodeAttitude serializes a 64-byte attitude packet.
func EncodeAttitude(a *AttitudeData) []byte {
	buf := make([]byte, AttitudeSize)
	copy(buf, EncodePreamble(a.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u32(a.Reserved2[0])
	w.u32(a.Reserved2[1])
	w.u32(a.EpochMicroseconds)
	w.u32(a.SourceEpoch)
	w.f32(a.Pitch)
	w.f32(a.Roll)
	w.f32(a.Heave)
	w.f32(a.Yaw)
	w.u32(a.TimeTag)
	w.f32(a.Heading)
	w.u16(a.Year)
	w.u8(a.Month)
	w.u8(a.Day)
	w.u8(a.Hour)
	w.u8(a.Minute)
	w.u8(a.Second)
	w.u16(a.Millisecond)
	w.u8(a.Reserved3)
	return buf
}

// EncodeNotes serializes a 256-byte notes packet.
func EncodeNotes(n *NotesHeader) []byte {
	buf := make([]byte, NotesSize)
	copy(buf, EncodePreamble(n.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u16(n.Year)
	w.u8(n.Month)
	w.u8(n.Day)
	w.u8(n.Hour)
	w.u8(n.Minute)
	w.u8(n.Second)
	w.bytes(n.ReservedBytes[:])
	w.bytes(n.NotesText[:])
	return buf
}

// EncodeRawSerial serializes the fixed header followed by the ascii payload.
// The header's StringSize must match len(data).
func EncodeRawSerial(h *RawSerialHeader, data []byte) []byte {
	buf := make([]byte, RawSerialFixedSize+len(data))
	copy(buf, EncodePreamble(h.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u16(h.Year)
	w.u8(h.Month)
	w.u8(h.Day)
	w.u8(h.Hour)
	w.u8(h.Minute)
	w.u8(h.Second)
	w.u8(h.HSeconds)
	w.u16(h.JulianDay)
	w.u32(h.TimeTag)
	w.u16(h.StringSize)
	w.bytes(data)
	return buf
}

// EncodeNavigation serializes a 64-byte navigation packet.
func EncodeNavigation(n *Navigation) []byte {
	buf := make([]byte, NavigationSize)
	copy(buf, EncodePreamble(n.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u16(n.Year)
	w.u8(n.Month)
	w.u8(n.Day)
	w.u8(n.Hour)
	w.u8(n.Minute)
	w.u8(n.Second)
	w.u32(n.Microsecond)
	w.u32(n.SourceEpoch)
	w.u32(n.TimeTag)
	w.f64(n.RawYcoordinate)
	w.f64(n.RawXcoordinate)
	w.f64(n.RawAltitude)
	w.u8(n.TimeFlag)
	w.bytes(n.Reserved2[:])
	return buf
}

// EncodePosRawNavigation serializes a 64-byte raw position fix.
func EncodePosRawNavigation(p *PosRawNavigation) []byte {
	buf := make([]byte, PosRawNavSize)
	copy(buf, EncodePreamble(p.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u16(p.Year)
	w.u8(p.Month)
	w.u8(p.Day)
	w.u8(p.Hour)
	w.u8(p.Minute)
	w.u8(p.Second)
	w.u16(p.Microsecond)
	w.f64(p.RawYcoordinate)
	w.f64(p.RawXcoordinate)
	w.f64(p.RawAltitude)
	w.f32(p.Pitch)
	w.f32(p.Roll)
	w.f32(p.Heave)
	w.f32(p.Heading)
	w.u8(p.Reserved2)
	return buf
}

// EncodeGyro serializes a 64-byte gyro packet.
func EncodeGyro(g *Gyro) []byte {
	buf := make([]byte, GyroSize)
	copy(buf, EncodePreamble(g.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u16(g.Year)
	w.u8(g.Month)
	w.u8(g.Day)
	w.u8(g.Hour)
	w.u8(g.Minute)
	w.u8(g.Second)
	w.u32(g.Microsecond)
	w.u32(g.SourceEpoch)
	w.u32(g.TimeTag)
	w.f32(g.Gyro)
	w.u8(g.TimeFlag)
	w.bytes(g.Reserved1[:])
	return buf
}

// EncodeQPSSingleBeam serializes a single-beam packet.
func EncodeQPSSingleBeam(q *QPSSingleBeam) []byte {
	buf := make([]byte, QPSSingleBeamSize)
	copy(buf, EncodePreamble(q.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u32(q.TimeTag)
	w.i32(q.Id)
	w.f32(q.SoundVelocity)
	w.f32(q.Intensity)
	w.i32(q.Quality)
	w.f32(q.TwoWayTravelTime)
	w.u16(q.Year)
	w.u8(q.Month)
	w.u8(q.Day)
	w.u8(q.Hour)
	w.u8(q.Minute)
	w.u8(q.Second)
	w.u16(q.Millisecond)
	w.bytes(q.Reserved2[:])
	return buf
}

// EncodeRawCustom serializes a vendor escape packet. The manufacturer and
// packet identifiers land in the preamble's sub-channel region; the standard
// length slot still carries the frame length so the record stays skippable.
func EncodeRawCustom(r *RawCustomHeader) []byte {
	buf := make([]byte, RawCustomFixedSize)
	copy(buf, EncodePreamble(r.Preamble))
	buf[3] = r.ManufacturerID
	binary.LittleEndian.PutUint16(buf[4:6], r.SonarID)
	binary.LittleEndian.PutUint16(buf[6:8], r.PacketID[0])
	binary.LittleEndian.PutUint16(buf[8:10], r.PacketID[1])
	w := writer{b: buf, off: PreambleSize}
	w.u32(r.NumBytesThisRecord)
	w.i32(r.Id)
	w.f32(r.SoundVelocity)
	w.f32(r.Intensity)
	w.i32(r.Quality)
	w.f32(r.TwoWayTravelTime)
	w.u16(r.Year)
	w.u8(r.Month)
	w.u8(r.Day)
	w.u8(r.Hour)
	w.u8(r.Minute)
	w.u8(r.Second)
	w.u16(r.Millisecond)
	w.bytes(r.Reserved2[:])
	return buf
}

// EncodeHighSpeedSensor serializes a 64-byte high-speed sensor packet.
func EncodeHighSpeedSensor(h *HighSpeedSensor) []byte {
	buf := make([]byte, HighSpeedSensorSize)
	copy(buf, EncodePreamble(h.Preamble))
	w := writer{b: buf, off: PreambleSize}
	w.u16(h.Year)
	w.u8(h.Month)
	w.u8(h.Day)
	w.u8(h.Hour)
	w.u8(h.Minute)
	w.u8(h.Second)
	w.u8(h.HSeconds)
	w.u32(h.NumSensorBytes)
	w.u32(h.RelativeBathyPingNum)
	w.bytes(h.Reserved3[:])
	return buf
}

// EncodeBeamXYZA serializes one 31-byte beam record.
func EncodeBeamXYZA(b BeamXYZA) []byte {
	buf := make([]byte, BeamXYZASize)
	w := writer{b: buf}
	w.f64(b.PosOffsetTrX)
	w.f64(b.PosOffsetTrY)
	w.f32(b.Depth)
	w.f64(b.Time)
	w.i16(b.Amplitude)
	w.u8(b.Quality)
	return buf
}

// EncodeSNP0 serializes a 74-byte snippet ping frame header.
func EncodeSNP0(s *SNP0) []byte {
	buf := make([]byte, SNP0Size)
	w := writer{b: buf}
	w.u32(s.ID)
	w.u16(s.HeaderSize)
	w.u16(s.DataSize)
	w.u32(s.PingNumber)
	w.u32(s.Seconds)
	w.u32(s.Millisec)
	w.u16(s.Latency)
	w.u16(s.SonarID[0])
	w.u16(s.SonarID[1])
	w.u16(s.SonarModel)
	w.u16(s.Frequency)
	w.u16(s.SSpeed)
	w.u16(s.SampleRate)
	w.u16(s.PingRate)
	w.u16(s.Range)
	w.u16(s.Power)
	w.u16(s.Gain)
	w.u16(s.PulseWidth)
	w.u16(s.Spread)
	w.u16(s.Absorb)
	w.u16(s.Proj)
	w.u16(s.ProjWidth)
	w.u16(s.SpacingNum)
	w.u16(s.SpacingDen)
	w.i16(s.ProjAngle)
	w.u16(s.MinRange)
	w.u16(s.MaxRange)
	w.u16(s.MinDepth)
	w.u16(s.MaxDepth)
	w.u16(s.Filters)
	w.u8(s.Flags[0])
	w.u8(s.Flags[1])
	w.i16(s.HeadTemp)
	w.u16(s.BeamCnt)
	return buf
}

// EncodeSNP1 serializes a 24-byte snippet beam frame header.
func EncodeSNP1(s *SNP1) []byte {
	buf := make([]byte, SNP1Size)
	w := writer{b: buf}
	w.u32(s.ID)
	w.u16(s.HeaderSize)
	w.u16(s.DataSize)
	w.u32(s.PingNumber)
	w.u16(s.Beam)
	w.u16(s.SnipSamples)
	w.u16(s.GainStart)
	w.u16(s.GainEnd)
	w.u16(s.FragOffset)
	w.u16(s.FragSamples)
	return buf
}
