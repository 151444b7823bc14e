package pb

import "testing"

func TestRequestInfoRoundTrip(t *testing.T) {
	in := &RequestInfo{
		Type:          KindBlock,
		FileID:        0xdeadbeef,
		FileVersion:   3,
		BlockID:       42,
		BlockVersion:  1,
		Size:          4096,
		FileMtimeSec:  1700000000,
		FileMtimeNsec: 123456,
		Owner:         7,
		Writer:        9,
		Volume:        11,
		Hash:          []byte("aGVsbG8="),
		Signature:     []byte("c2lnbmF0dXJl"),
	}

	out, err := Unmarshal(in.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	switch {
	case out.Type != in.Type:
		t.Errorf("Type = %v, want %v", out.Type, in.Type)
	case out.FileID != in.FileID:
		t.Errorf("FileID = %v, want %v", out.FileID, in.FileID)
	case out.FileVersion != in.FileVersion:
		t.Errorf("FileVersion = %v, want %v", out.FileVersion, in.FileVersion)
	case out.BlockID != in.BlockID:
		t.Errorf("BlockID = %v, want %v", out.BlockID, in.BlockID)
	case out.BlockVersion != in.BlockVersion:
		t.Errorf("BlockVersion = %v, want %v", out.BlockVersion, in.BlockVersion)
	case out.Size != in.Size:
		t.Errorf("Size = %v, want %v", out.Size, in.Size)
	case out.Owner != in.Owner:
		t.Errorf("Owner = %v, want %v", out.Owner, in.Owner)
	case out.Writer != in.Writer:
		t.Errorf("Writer = %v, want %v", out.Writer, in.Writer)
	case out.Volume != in.Volume:
		t.Errorf("Volume = %v, want %v", out.Volume, in.Volume)
	case string(out.Hash) != string(in.Hash):
		t.Errorf("Hash = %q, want %q", out.Hash, in.Hash)
	case string(out.Signature) != string(in.Signature):
		t.Errorf("Signature = %q, want %q", out.Signature, in.Signature)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	in := &RequestInfo{Type: KindManifest, FileID: 1}
	full := in.Marshal()
	if len(full) < 2 {
		t.Fatal("marshaled envelope unexpectedly short")
	}
	if _, err := Unmarshal(full[:len(full)-1]); err == nil {
		t.Error("Unmarshal(truncated) = nil error, want non-nil")
	}
}
