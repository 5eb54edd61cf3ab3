// Package xtf decodes the eXtended Triton Format, the binary container used
// by sonar and bathymetry survey instruments. A file is a fixed 1024-byte
// header describing up to six acquisition channels, followed by a stream of
// self-framing packets. Every structure on the wire is little-endian and
// packed with no alignment padding; the byte sizes below are a hard contract
// shared with other tools and are asserted by the package tests.
package xtf

// HeaderType identifies the payload carried by a packet. The numeric values
// are fixed by the format and must never shift.
type HeaderType uint8

const (
	HeaderSonar                HeaderType = 0
	HeaderNotes                HeaderType = 1
	HeaderBathy                HeaderType = 2
	HeaderAttitude             HeaderType = 3
	HeaderRawSerial            HeaderType = 6
	HeaderHighSpeedSensor2     HeaderType = 15
	HeaderBathyXYZA            HeaderType = 17
	HeaderGyro                 HeaderType = 23
	HeaderQPSSingleBeam        HeaderType = 26
	HeaderNavigation           HeaderType = 42
	HeaderMultibeamRawBeamAngle HeaderType = 74
	HeaderSourceTimeGyro       HeaderType = 84
	HeaderPosRawNavigation     HeaderType = 107
	HeaderCustomVendorData     HeaderType = 199
	HeaderUserDefined          HeaderType = 200
)

func (t HeaderType) String() string {
	switch t {
	case HeaderSonar:
		return "sonar"
	case HeaderNotes:
		return "notes"
	case HeaderBathy:
		return "bathy"
	case HeaderAttitude:
		return "attitude"
	case HeaderRawSerial:
		return "raw_serial"
	case HeaderHighSpeedSensor2:
		return "highspeed_sensor2"
	case HeaderBathyXYZA:
		return "bathy_xyza"
	case HeaderGyro:
		return "gyro"
	case HeaderQPSSingleBeam:
		return "q_singlebeam"
	case HeaderNavigation:
		return "navigation"
	case HeaderMultibeamRawBeamAngle:
		return "multibeam_raw_beam_angle"
	case HeaderSourceTimeGyro:
		return "sourcetime_gyro"
	case HeaderPosRawNavigation:
		return "pos_raw_navigation"
	case HeaderCustomVendorData:
		return "custom_vendor_data"
	case HeaderUserDefined:
		return "user_defined"
	}
	return "unknown"
}

// Channel types stored in ChanInfo.TypeOfChannel.
const (
	ChannelSubbottom uint8 = 0
	ChannelPort      uint8 = 1
	ChannelStbd      uint8 = 2
	ChannelBathy     uint8 = 3
)

// Navigation units stored in FileHeader.NavUnits.
const (
	NavUnitsMeters  uint16 = 0
	NavUnitsLatLong uint16 = 3
)

// Wire sizes. Files are shared across tools; these must match bit for bit.
const (
	FileHeaderSize      = 1024
	ChanInfoSize        = 128
	PreambleSize        = 14
	PingHeaderSize      = 256
	PingChanHeaderSize  = 64
	AttitudeSize        = 64
	NotesSize           = 256
	RawSerialFixedSize  = 30
	NavigationSize      = 64
	PosRawNavSize       = 64
	GyroSize            = 64
	QPSSingleBeamSize   = 54
	RawCustomFixedSize  = 54
	HighSpeedSensorSize = 64
	BeamXYZASize        = 31
	SNP0Size            = 74
	SNP1Size            = 24

	maxChannels = 6
)

// preambleMagic opens every packet. A mismatch means the stream cannot be
// resynchronized.
const preambleMagic = 0xFACE

// Snippet frame identifiers, ASCII "SNP0" and "SNP1" as little-endian words.
const (
	SNP0Magic = 0x534E5030
	SNP1Magic = 0x534E5031
)

// ChanInfo describes one acquisition channel. Exactly six slots exist in the
// file header regardless of how many are populated; only the first
// ChannelCount entries are meaningful. Immutable after the header parse.
type ChanInfo struct {
	TypeOfChannel    uint8
	SubChannelNumber uint8
	CorrectionFlags  uint16
	UniPolar         uint16
	BytesPerSample   uint16
	Reserved         uint32 // historically NumSamples; still the legacy fallback
	ChannelName      [16]byte
	VoltScale        float32
	Frequency        float32
	HorizBeamAngle   float32
	TiltAngle        float32
	BeamWidth        float32
	OffsetX          float32
	OffsetY          float32
	OffsetZ          float32
	OffsetYaw        float32
	OffsetPitch      float32
	OffsetRoll       float32
	BeamsPerArray    uint16
	ReservedArea2    [54]byte
}

// Name returns the channel name with trailing NULs stripped.
func (c *ChanInfo) Name() string {
	return cstring(c.ChannelName[:])
}

// FileHeader is the fixed 1024-byte prefix of every XTF file.
type FileHeader struct {
	FileFormat                     uint8
	SystemType                     uint8
	RecordingProgramName           [8]byte
	RecordingProgramVersion        [8]byte
	SonarName                      [16]byte
	SonarType                      uint16
	NoteString                     [64]byte
	ThisFileName                   [64]byte
	NavUnits                       uint16
	NumberOfSonarChannels          uint16
	NumberOfBathymetryChannels     uint16
	NumberOfSnippetChannels        uint8
	NumberOfForwardLookArrays      uint8
	NumberOfEchoStrengthChannels   uint16
	NumberOfInterferometryChannels uint8
	Reserved1                      uint8
	Reserved2                      uint16
	ReferencePointHeight           float32
	ProjectionType                 [12]byte
	SpheroidType                   [10]byte
	NavigationLatency              int32
	OriginY                        float32
	OriginX                        float32
	NavOffsetY                     float32
	NavOffsetX                     float32
	NavOffsetZ                     float32
	NavOffsetYaw                   float32
	MRUOffsetY                     float32
	MRUOffsetX                     float32
	MRUOffsetZ                     float32
	MRUOffsetYaw                   float32
	MRUOffsetPitch                 float32
	MRUOffsetRoll                  float32
	ChanInfo                       [6]ChanInfo

	// Derived at decode time. SonarChannels keeps descriptor order; ping
	// sub-headers bind to it by positional index, not by channel id.
	SonarChannels []*ChanInfo
	BathyChannels []*ChanInfo
}

// Sonar returns the recording sonar's name with trailing NULs stripped.
func (h *FileHeader) Sonar() string {
	return cstring(h.SonarName[:])
}

// ChannelCount sums the six per-category counters. Values past six are only
// nominally present and are ignored.
func (h *FileHeader) ChannelCount() int {
	n := int(h.NumberOfSonarChannels) +
		int(h.NumberOfBathymetryChannels) +
		int(h.NumberOfSnippetChannels) +
		int(h.NumberOfForwardLookArrays) +
		int(h.NumberOfEchoStrengthChannels) +
		int(h.NumberOfInterferometryChannels)
	return n
}

// PacketPreamble is the common 14-byte prefix used to frame and dispatch
// every packet. NumBytesThisRecord is the total frame size including the
// preamble itself and is the authoritative skip length for unknown tags.
type PacketPreamble struct {
	MagicNumber        uint16
	HeaderType         HeaderType
	SubChannelNumber   uint8 // serial port number for raw_serial packets
	NumChansToFollow   uint16
	Reserved1          [2]uint16
	NumBytesThisRecord uint32
}

// PingChanHeader is the per-channel metadata embedded inside ping packets.
type PingChanHeader struct {
	ChannelNumber         uint16
	DownsampleMethod      uint16
	SlantRange            float32
	GroundRange           float32
	TimeDelay             float32
	TimeDuration          float32
	SecondsPerPing        float32
	ProcessingFlags       uint16
	Frequency             uint16
	InitialGainCode       uint16
	GainCode              uint16
	BandWidth             uint16
	ContactNumber         uint32
	ContactClassification uint16
	ContactSubNumber      uint8
	ContactType           uint8
	NumSamples            uint32 // zero means use the channel's legacy count
	MillivoltScale        uint16
	ContactTimeOffTrack   float32
	ContactCloseNumber    uint8
	Reserved2             uint8
	FixedVSOP             float32
	Weight                int16
	ReservedSpace         [4]byte
}

// PingHeader is the 256-byte header shared by sonar and bathymetry pings.
type PingHeader struct {
	Preamble              PacketPreamble
	Year                  uint16
	Month                 uint8
	Day                   uint8
	Hour                  uint8
	Minute                uint8
	Second                uint8
	HSeconds              uint8 // hundredths of a second, 0-99
	JulianDay             uint16
	EventNumber           uint32
	PingNumber            uint32
	SoundVelocity         float32
	OceanTide             float32
	Reserved2             uint32
	ConductivityFreq      float32
	TemperatureFreq       float32
	PressureFreq          float32
	PressureTemp          float32
	Conductivity          float32
	WaterTemperature      float32
	Pressure              float32
	ComputedSoundVelocity float32
	MagX                  float32
	MagY                  float32
	MagZ                  float32
	AuxVal1               float32
	AuxVal2               float32
	AuxVal3               float32
	AuxVal4               float32
	AuxVal5               float32
	AuxVal6               float32
	SpeedLog              float32
	Turbidity             float32
	ShipSpeed             float32
	ShipGyro              float32
	ShipYcoordinate       float64
	ShipXcoordinate       float64
	ShipAltitude          uint16 // decimeters
	ShipDepth             uint16 // decimeters
	FixTimeHour           uint8
	FixTimeMinute         uint8
	FixTimeSecond         uint8
	FixTimeHsecond        uint8
	SensorSpeed           float32
	KP                    float32
	SensorYcoordinate     float64
	SensorXcoordinate     float64
	SonarStatus           uint16
	RangeToFish           uint16
	BearingToFish         uint16
	CableOut              uint16
	Layback               float32
	CableTension          float32
	SensorDepth           float32
	SensorPrimaryAltitude float32
	SensorAuxAltitude     float32
	SensorPitch           float32
	SensorRoll            float32
	SensorHeading         float32
	Heave                 float32
	Yaw                   float32
	AttitudeTimeTag       uint32
	DOT                   float32
	NavFixMilliseconds    uint32
	ComputerClockHour     uint8
	ComputerClockMinute   uint8
	ComputerClockSecond   uint8
	ComputerClockHsec     uint8
	FishPositionDeltaX    int16
	FishPositionDeltaY    int16
	FishPositionErrorCode uint8
	OptionalOffset        uint32
	CableOutHundredths    uint8
	ReservedSpace2        [6]byte
}

// SampleArray holds one channel's samples as unsigned integers of the width
// declared by its channel descriptor. Exactly one slice is populated.
type SampleArray struct {
	BytesPerSample int
	U8             []uint8
	U16            []uint16
	U32            []uint32
	U64            []uint64
}

// Len returns the number of samples.
func (s *SampleArray) Len() int {
	switch s.BytesPerSample {
	case 1:
		return len(s.U8)
	case 2:
		return len(s.U16)
	case 4:
		return len(s.U32)
	case 8:
		return len(s.U64)
	}
	return 0
}

// At returns sample i widened to uint64.
func (s *SampleArray) At(i int) uint64 {
	switch s.BytesPerSample {
	case 1:
		return uint64(s.U8[i])
	case 2:
		return uint64(s.U16[i])
	case 4:
		return uint64(s.U32[i])
	case 8:
		return s.U64[i]
	}
	return 0
}

// SonarPing is a decoded sidescan/subbottom ping: one sub-header and one
// sample array per channel, in channel order.
type SonarPing struct {
	Header   PingHeader
	Channels []PingChanHeader
	Samples  []SampleArray
}

// BathyXYZA is a processed-bathymetry ping holding fixed 31-byte beam records.
type BathyXYZA struct {
	Header PingHeader
	Beams  []BeamXYZA
}

// RawBathy is a vendor-specific bathymetry ping. The payload is opaque and is
// not interpreted further here.
type RawBathy struct {
	Header PingHeader
	Data   []byte
}

// BeamXYZA is one processed-bathymetry beam record.
type BeamXYZA struct {
	PosOffsetTrX float64
	PosOffsetTrY float64
	Depth        float32
	Time         float64
	Amplitude    int16
	Quality      uint8
}

// AttitudeData carries pitch/roll/heave/yaw from a motion sensor.
type AttitudeData struct {
	Preamble          PacketPreamble
	Reserved2         [2]uint32
	EpochMicroseconds uint32
	SourceEpoch       uint32
	Pitch             float32
	Roll              float32
	Heave             float32
	Yaw               float32
	TimeTag           uint32
	Heading           float32
	Year              uint16
	Month             uint8
	Day               uint8
	Hour              uint8
	Minute            uint8
	Second            uint8
	Millisecond       uint16
	Reserved3         uint8
}

// NotesHeader carries a fixed-capacity text annotation.
type NotesHeader struct {
	Preamble      PacketPreamble
	Year          uint16
	Month         uint8
	Day           uint8
	Hour          uint8
	Minute        uint8
	Second        uint8
	ReservedBytes [35]byte
	NotesText     [200]byte
}

// Text returns the note with trailing NULs stripped.
func (n *NotesHeader) Text() string {
	return cstring(n.NotesText[:])
}

// RawSerialHeader is the fixed prefix of a raw serial packet. StringSize
// ascii bytes follow it on the wire.
type RawSerialHeader struct {
	Preamble   PacketPreamble
	Year       uint16
	Month      uint8
	Day        uint8
	Hour       uint8
	Minute     uint8
	Second     uint8
	HSeconds   uint8
	JulianDay  uint16
	TimeTag    uint32 // millisecond timer value
	StringSize uint16
}

// SerialPort reports the originating serial port, which shares the preamble
// sub-channel byte.
func (h *RawSerialHeader) SerialPort() uint8 {
	return h.Preamble.SubChannelNumber
}

// RawSerial is a decoded serial packet with its trailing ascii payload.
type RawSerial struct {
	Header RawSerialHeader
	Data   []byte
}

// Navigation is a source time-stamped navigation update. Its reserved bytes
// occupy the sub-channel and channel-count fields of the common preamble.
type Navigation struct {
	Preamble     PacketPreamble
	Year         uint16
	Month        uint8
	Day          uint8
	Hour         uint8
	Minute       uint8
	Second       uint8
	Microsecond  uint32
	SourceEpoch  uint32
	TimeTag      uint32
	RawYcoordinate float64
	RawXcoordinate float64
	RawAltitude  float64
	TimeFlag     uint8
	Reserved2    [6]byte
}

// PosRawNavigation is a raw position/attitude fix.
type PosRawNavigation struct {
	Preamble     PacketPreamble
	Year         uint16
	Month        uint8
	Day          uint8
	Hour         uint8
	Minute       uint8
	Second       uint8
	Microsecond  uint16
	RawYcoordinate float64
	RawXcoordinate float64
	RawAltitude  float64
	Pitch        float32
	Roll         float32
	Heave        float32
	Heading      float32
	Reserved2    uint8
}

// Gyro is a heading/speed sensor packet. Tags 23 and 84 share this layout;
// the difference is receive versus source time.
type Gyro struct {
	Preamble    PacketPreamble
	Year        uint16
	Month       uint8
	Day         uint8
	Hour        uint8
	Minute      uint8
	Second      uint8
	Microsecond uint32
	SourceEpoch uint32
	TimeTag     uint32
	Gyro        float32
	TimeFlag    uint8
	Reserved1   [26]byte
}

// QPSSingleBeam is a QPS single-beam echosounder packet.
type QPSSingleBeam struct {
	Preamble         PacketPreamble
	TimeTag          uint32
	Id               int32
	SoundVelocity    float32
	Intensity        float32
	Quality          int32
	TwoWayTravelTime float32
	Year             uint16
	Month            uint8
	Day              uint8
	Hour             uint8
	Minute           uint8
	Second           uint8
	Millisecond      uint16
	Reserved2        [7]byte
}

// RawCustomHeader is a vendor escape packet. Its manufacturer and packet
// identifiers occupy the sub-channel and channel-count region of the common
// preamble, and its own record length sits four bytes past the standard slot.
type RawCustomHeader struct {
	Preamble           PacketPreamble
	ManufacturerID     uint8
	SonarID            uint16
	PacketID           [2]uint16
	NumBytesThisRecord uint32
	Id                 int32
	SoundVelocity      float32
	Intensity          float32
	Quality            int32
	TwoWayTravelTime   float32
	Year               uint16
	Month              uint8
	Day                uint8
	Hour               uint8
	Minute             uint8
	Second             uint8
	Millisecond        uint16
	Reserved2          [7]byte
}

// HighSpeedSensor is a Klein high-rate auxiliary sensor packet.
type HighSpeedSensor struct {
	Preamble             PacketPreamble
	Year                 uint16
	Month                uint8
	Day                  uint8
	Hour                 uint8
	Minute               uint8
	Second               uint8
	HSeconds             uint8
	NumSensorBytes       uint32
	RelativeBathyPingNum uint32
	Reserved3            [34]byte
}

// SNP0 frames a bathymetry snippet ping. Framing only; the snippet payload
// itself is vendor specific and out of scope.
type SNP0 struct {
	ID         uint32
	HeaderSize uint16
	DataSize   uint16
	PingNumber uint32
	Seconds    uint32 // since 1970-01-01
	Millisec   uint32
	Latency    uint16
	SonarID    [2]uint16
	SonarModel uint16
	Frequency  uint16
	SSpeed     uint16
	SampleRate uint16
	PingRate   uint16
	Range      uint16
	Power      uint16
	Gain       uint16
	PulseWidth uint16
	Spread     uint16
	Absorb     uint16
	Proj       uint16
	ProjWidth  uint16
	SpacingNum uint16
	SpacingDen uint16
	ProjAngle  int16
	MinRange   uint16
	MaxRange   uint16
	MinDepth   uint16
	MaxDepth   uint16
	Filters    uint16
	Flags      [2]uint8
	HeadTemp   int16
	BeamCnt    uint16
}

// SNP1 frames one beam's snippet time series.
type SNP1 struct {
	ID          uint32
	HeaderSize  uint16
	DataSize    uint16
	PingNumber  uint32
	Beam        uint16
	SnipSamples uint16
	GainStart   uint16
	GainEnd     uint16
	FragOffset  uint16
	FragSamples uint16
}

// Record is the tagged union produced for each decoded frame. Exactly one
// payload pointer is set, chosen by Preamble.HeaderType; for unrecognized
// tags all pointers are nil and Unknown is true. Records are self-contained:
// sample arrays and payload slices are owned by the record alone.
type Record struct {
	Preamble PacketPreamble

	SonarPing        *SonarPing
	BathyXYZA        *BathyXYZA
	RawBathy         *RawBathy
	Attitude         *AttitudeData
	Notes            *NotesHeader
	RawSerial        *RawSerial
	Navigation       *Navigation
	PosRawNavigation *PosRawNavigation
	Gyro             *Gyro
	SingleBeam       *QPSSingleBeam
	RawCustom        *RawCustomHeader
	HighSpeedSensor  *HighSpeedSensor

	// Unknown marks a recognized frame whose tag has no decoder. The
	// preamble still carries the authoritative record length, so callers
	// can skip forward; this is not an error.
	Unknown bool
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
