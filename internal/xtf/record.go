package xtf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// payloadDecoder turns one complete frame into a typed record. The frame
// slice covers exactly NumBytesThisRecord bytes starting at the preamble.
type payloadDecoder func(fh *FileHeader, pre PacketPreamble, frame []byte) (*Record, error)

// payloadDecoders routes header-type tags to decoders. Tags absent from the
// table are not an error: the dispatcher emits an Unknown record carrying
// the preamble so the caller can skip the frame.
var payloadDecoders = map[HeaderType]payloadDecoder{
	HeaderSonar:                 decodePingRecord,
	HeaderBathy:                 decodePingRecord,
	HeaderBathyXYZA:             decodePingRecord,
	HeaderMultibeamRawBeamAngle: decodePingRecord,
	HeaderNotes:                 decodeNotesRecord,
	HeaderAttitude:              decodeAttitudeRecord,
	HeaderRawSerial:             decodeRawSerialRecord,
	HeaderNavigation:            decodeNavigationRecord,
	HeaderGyro:                  decodeGyroRecord,
	HeaderSourceTimeGyro:        decodeGyroRecord,
	HeaderPosRawNavigation:      decodePosRawNavRecord,
	HeaderQPSSingleBeam:         decodeSingleBeamRecord,
	HeaderCustomVendorData:      decodeRawCustomRecord,
	HeaderHighSpeedSensor2:      decodeHighSpeedSensorRecord,
}

// fixedRecordSizes gives the smallest NumBytesThisRecord each known tag can
// legally declare. A declared length below this floor is a bookkeeping
// inconsistency inside the record, not a truncated source.
var fixedRecordSizes = map[HeaderType]int{
	HeaderSonar:                 PingHeaderSize,
	HeaderBathy:                 PingHeaderSize,
	HeaderBathyXYZA:             PingHeaderSize,
	HeaderMultibeamRawBeamAngle: PingHeaderSize,
	HeaderNotes:                 NotesSize,
	HeaderAttitude:              AttitudeSize,
	HeaderRawSerial:             RawSerialFixedSize,
	HeaderNavigation:            NavigationSize,
	HeaderGyro:                  GyroSize,
	HeaderSourceTimeGyro:        GyroSize,
	HeaderPosRawNavigation:      PosRawNavSize,
	HeaderQPSSingleBeam:         QPSSingleBeamSize,
	HeaderCustomVendorData:      RawCustomFixedSize,
	HeaderHighSpeedSensor2:      HighSpeedSensorSize,
}

// DecodeRecord decodes one framed packet. The frame must hold the packet's
// complete NumBytesThisRecord bytes; callers obtain it from Reader or from a
// FileIndex frame range. Unknown tags yield a Record with Unknown set, never
// an error. ErrCorruptRecord and ErrUnsupportedFormat condemn this record
// only; the caller may continue with the next frame. io.ErrUnexpectedEOF is
// reserved for a caller-supplied frame shorter than the declared length.
func DecodeRecord(fh *FileHeader, frame []byte) (*Record, error) {
	pre, err := DecodePreamble(frame)
	if err != nil {
		return nil, err
	}
	if int64(pre.NumBytesThisRecord) > int64(len(frame)) {
		return nil, io.ErrUnexpectedEOF
	}
	dec, ok := payloadDecoders[pre.HeaderType]
	if !ok {
		return &Record{Preamble: pre, Unknown: true}, nil
	}
	if min := fixedRecordSizes[pre.HeaderType]; int(pre.NumBytesThisRecord) < min {
		return nil, fmt.Errorf("%w: %s record declares %d bytes, fixed structure needs %d",
			ErrCorruptRecord, pre.HeaderType, pre.NumBytesThisRecord, min)
	}
	return dec(fh, pre, frame[:pre.NumBytesThisRecord])
}

// decodePingRecord handles the four ping-shaped tags. Sonar pings carry one
// 64-byte sub-header plus a sample array per channel; the bathymetry tags
// carry a single trailing block after the 256-byte ping header.
func decodePingRecord(fh *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	hdr, err := decodePingHeader(frame)
	if err != nil {
		return nil, err
	}
	rec := &Record{Preamble: pre}

	switch pre.HeaderType {
	case HeaderSonar:
		if fh == nil {
			return nil, fmt.Errorf("%w: sonar ping requires the file header's channel table", ErrUnsupportedFormat)
		}
		ping := &SonarPing{Header: hdr}
		off := PingHeaderSize
		for i := 0; i < int(pre.NumChansToFollow); i++ {
			if off+PingChanHeaderSize > len(frame) {
				return nil, fmt.Errorf("%w: channel header %d extends past declared record length",
					ErrCorruptRecord, i)
			}
			ch, err := decodePingChanHeader(frame[off:])
			if err != nil {
				return nil, err
			}
			off += PingChanHeaderSize

			// Sub-headers bind to the sonar channel table by position,
			// not by the embedded channel number. Files in the wild
			// rely on the positional semantics.
			if i >= len(fh.SonarChannels) {
				return nil, fmt.Errorf("%w: ping channel %d has no descriptor (sonar channels: %d)",
					ErrUnsupportedFormat, i, len(fh.SonarChannels))
			}
			info := fh.SonarChannels[i]

			// Zero NumSamples means the writer predates the field; fall
			// back to the channel's legacy count.
			nSamples := int(ch.NumSamples)
			if nSamples == 0 {
				nSamples = int(info.Reserved)
			}
			width := int(info.BytesPerSample)
			switch width {
			case 1, 2, 4, 8:
			default:
				return nil, fmt.Errorf("%w: %d bytes per sample on channel %d", ErrUnsupportedFormat, width, i)
			}
			nBytes := nSamples * width
			remaining := int(pre.NumBytesThisRecord) - PingHeaderSize - PingChanHeaderSize
			if nBytes > remaining {
				return nil, fmt.Errorf("%w: channel %d declares %d sample bytes with %d remaining",
					ErrCorruptRecord, i, nBytes, remaining)
			}
			if off+nBytes > len(frame) {
				return nil, fmt.Errorf("%w: channel %d samples extend past declared record length",
					ErrCorruptRecord, i)
			}
			ping.Channels = append(ping.Channels, ch)
			ping.Samples = append(ping.Samples, decodeSamples(frame[off:off+nBytes], width))
			off += nBytes
		}
		rec.SonarPing = ping

	case HeaderBathyXYZA:
		block := frame[PingHeaderSize:]
		if len(block)%BeamXYZASize != 0 {
			return nil, fmt.Errorf("%w: bathy block of %d bytes is not a multiple of the %d-byte beam record",
				ErrCorruptRecord, len(block), BeamXYZASize)
		}
		beams := make([]BeamXYZA, 0, len(block)/BeamXYZASize)
		for off := 0; off < len(block); off += BeamXYZASize {
			beam, err := decodeBeamXYZA(block[off:])
			if err != nil {
				return nil, err
			}
			beams = append(beams, beam)
		}
		rec.BathyXYZA = &BathyXYZA{Header: hdr, Beams: beams}

	default:
		// bathy and multibeam_raw_beam_angle payloads are vendor
		// specific; expose the block untouched.
		block := frame[PingHeaderSize:]
		rec.RawBathy = &RawBathy{Header: hdr, Data: append([]byte(nil), block...)}
	}
	return rec, nil
}

// decodeSamples copies a sample block into a typed array. The block length
// is already a multiple of width.
func decodeSamples(block []byte, width int) SampleArray {
	s := SampleArray{BytesPerSample: width}
	n := len(block) / width
	switch width {
	case 1:
		s.U8 = append([]uint8(nil), block...)
	case 2:
		s.U16 = make([]uint16, n)
		for i := range s.U16 {
			s.U16[i] = binary.LittleEndian.Uint16(block[i*2:])
		}
	case 4:
		s.U32 = make([]uint32, n)
		for i := range s.U32 {
			s.U32[i] = binary.LittleEndian.Uint32(block[i*4:])
		}
	case 8:
		s.U64 = make([]uint64, n)
		for i := range s.U64 {
			s.U64[i] = binary.LittleEndian.Uint64(block[i*8:])
		}
	}
	return s
}

func decodeNotesRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	n, err := decodeNotes(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, Notes: n}, nil
}

func decodeAttitudeRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	a, err := decodeAttitude(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, Attitude: a}, nil
}

// decodeRawSerialRecord trusts the header's StringSize for the ascii payload
// length, failing on truncation rather than re-checking it against the
// record length.
func decodeRawSerialRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	hdr, err := decodeRawSerialHeader(frame)
	if err != nil {
		return nil, err
	}
	end := RawSerialFixedSize + int(hdr.StringSize)
	if end > len(frame) {
		return nil, fmt.Errorf("%w: serial record StringSize %d exceeds declared record length",
			ErrCorruptRecord, hdr.StringSize)
	}
	data := append([]byte(nil), frame[RawSerialFixedSize:end]...)
	return &Record{Preamble: pre, RawSerial: &RawSerial{Header: hdr, Data: data}}, nil
}

func decodeNavigationRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	n, err := decodeNavigation(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, Navigation: n}, nil
}

func decodeGyroRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	g, err := decodeGyro(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, Gyro: g}, nil
}

func decodePosRawNavRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	p, err := decodePosRawNavigation(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, PosRawNavigation: p}, nil
}

func decodeSingleBeamRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	q, err := decodeQPSSingleBeam(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, SingleBeam: q}, nil
}

func decodeRawCustomRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	r, err := decodeRawCustom(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, RawCustom: r}, nil
}

func decodeHighSpeedSensorRecord(_ *FileHeader, pre PacketPreamble, frame []byte) (*Record, error) {
	h, err := decodeHighSpeedSensor(frame)
	if err != nil {
		return nil, err
	}
	return &Record{Preamble: pre, HighSpeedSensor: h}, nil
}
