package xtf

import (
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSNP0RoundTrip(t *testing.T) {
	want := &SNP0{
		ID:         SNP0Magic,
		HeaderSize: SNP0Size,
		DataSize:   128,
		PingNumber: 42,
		Seconds:    1_583_020_800,
		Millisec:   250,
		SonarModel: 4410,
		Frequency:  455,
		SampleRate: 2400,
		BeamCnt:    240,
		ProjAngle:  -300,
		HeadTemp:   215,
		Flags:      [2]uint8{1, 0},
	}
	got, err := DecodeSNP0(EncodeSNP0(want))
	if err != nil {
		t.Fatalf("DecodeSNP0: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snp0 mismatch (-want +got):\n%s", diff)
	}
}

func TestSNP1RoundTrip(t *testing.T) {
	want := &SNP1{
		ID:          SNP1Magic,
		HeaderSize:  SNP1Size,
		DataSize:    64,
		PingNumber:  42,
		Beam:        17,
		SnipSamples: 32,
		GainStart:   3,
		GainEnd:     12,
	}
	got, err := DecodeSNP1(EncodeSNP1(want))
	if err != nil {
		t.Fatalf("DecodeSNP1: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snp1 mismatch (-want +got):\n%s", diff)
	}
}

func TestSnippetBadMagic(t *testing.T) {
	s0 := EncodeSNP0(&SNP0{ID: SNP1Magic})
	if _, err := DecodeSNP0(s0); !errors.Is(err, ErrCorruptStream) {
		t.Fatalf("DecodeSNP0: expected ErrCorruptStream, got %v", err)
	}
	s1 := EncodeSNP1(&SNP1{ID: SNP0Magic})
	if _, err := DecodeSNP1(s1); !errors.Is(err, ErrCorruptStream) {
		t.Fatalf("DecodeSNP1: expected ErrCorruptStream, got %v", err)
	}
}

func TestSnippetShortBuffer(t *testing.T) {
	if _, err := DecodeSNP0(make([]byte, SNP0Size-1)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("DecodeSNP0: expected ErrUnexpectedEOF, got %v", err)
	}
	if _, err := DecodeSNP1(make([]byte, SNP1Size-1)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("DecodeSNP1: expected ErrUnexpectedEOF, got %v", err)
	}
}
