package service

import (
	"testing"

	"github.com/momentics/shmipc/ipcerr"
)

func sampleDescriptor() Descriptor {
	return Descriptor{
		Name:    "camera/front",
		Pattern: PatternPubSub,
		Config:  []byte{1, 2, 3, 4},
		SystemHeader: TypeDescriptor{
			Variant: VariantFixedSize, TypeName: "shmipc.SystemHeader", Size: 32, Alignment: 8,
		},
		UserHeader: TypeDescriptor{
			Variant: VariantFixedSize, TypeName: "()", Size: 0, Alignment: 1,
		},
		Payload: TypeDescriptor{
			Variant: VariantFixedSize, TypeName: "example.Frame", Size: 4096, Alignment: 64,
		},
		Attributes: []Attribute{
			{Key: "resolution", Value: "1920x1080"},
			{Key: "fps", Value: "30"},
		},
	}
}

func TestDescriptor_MarshalUnmarshalRoundTrip(t *testing.T) {
	d := sampleDescriptor()
	blob, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Descriptor
	if err := got.UnmarshalBinary(blob); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	if got.Name != d.Name || got.Pattern != d.Pattern {
		t.Fatalf("name/pattern mismatch: %+v", got)
	}
	if string(got.Config) != string(d.Config) {
		t.Fatalf("config mismatch: %v vs %v", got.Config, d.Config)
	}
	if got.Payload != d.Payload {
		t.Fatalf("payload type descriptor mismatch: %+v vs %+v", got.Payload, d.Payload)
	}
	if len(got.Attributes) != len(d.Attributes) {
		t.Fatalf("expected %d attributes, got %d", len(d.Attributes), len(got.Attributes))
	}
	for i, a := range d.Attributes {
		if got.Attributes[i] != a {
			t.Fatalf("attribute %d mismatch: %+v vs %+v", i, got.Attributes[i], a)
		}
	}
}

func TestDescriptor_UnmarshalRejectsBadMagic(t *testing.T) {
	var d Descriptor
	err := d.UnmarshalBinary([]byte("XXXXnonsense"))
	if !ipcerr.Is(err, ipcerr.CodeSegmentCorrupted) {
		t.Fatalf("expected CodeSegmentCorrupted for a bad magic, got %v", err)
	}
}

func TestDescriptor_UnmarshalRejectsTruncatedBody(t *testing.T) {
	d := sampleDescriptor()
	blob, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Descriptor
	err = got.UnmarshalBinary(blob[:len(blob)-3])
	if !ipcerr.Is(err, ipcerr.CodeSegmentCorrupted) {
		t.Fatalf("expected CodeSegmentCorrupted for a truncated body, got %v", err)
	}
}

func TestTypeDescriptor_CompatibleEnforcesNameVariantAlignmentAndSize(t *testing.T) {
	stored := TypeDescriptor{Variant: VariantFixedSize, TypeName: "example.Frame", Size: 4096, Alignment: 64}

	want := stored
	if !want.Compatible(stored) {
		t.Fatal("identical descriptors should be compatible")
	}

	wrongName := stored
	wrongName.TypeName = "example.OtherFrame"
	if wrongName.Compatible(stored) {
		t.Fatal("mismatched type names must not be compatible")
	}

	wrongVariant := stored
	wrongVariant.Variant = VariantDynamic
	if wrongVariant.Compatible(stored) {
		t.Fatal("mismatched variants must not be compatible")
	}

	tooStrictAlign := stored
	tooStrictAlign.Alignment = 128
	if tooStrictAlign.Compatible(stored) {
		t.Fatal("a caller requiring stricter alignment than stored must not be compatible")
	}

	looserAlign := stored
	looserAlign.Alignment = 8
	if !looserAlign.Compatible(stored) {
		t.Fatal("a caller requiring looser alignment than stored should be compatible")
	}

	wrongSize := stored
	wrongSize.Size = 2048
	if wrongSize.Compatible(stored) {
		t.Fatal("mismatched sizes must not be compatible")
	}
}

func TestPattern_String(t *testing.T) {
	cases := map[Pattern]string{
		PatternPubSub:     "PubSub",
		PatternEvent:      "Event",
		PatternReqResp:    "ReqResp",
		PatternBlackboard: "Blackboard",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Fatalf("Pattern(%d).String() = %q, want %q", p, got, want)
		}
	}
}
