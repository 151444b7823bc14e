// Package pb implements the wire envelope exchanged with a replica
// gateway: the "metadata" part of every multipart form (spec §4.1,
// §6, ms_gateway_request_info). There is no protoc-generated code
// here — no protoc toolchain is available in this tree — so the
// message is encoded/decoded directly against the protobuf wire
// format via google.golang.org/protobuf/encoding/protowire, the same
// low-level primitives protoc-gen-go itself emits calls to. The
// result is byte-for-byte a valid protobuf message; any protobuf
// decoder on the RG side reads it unmodified.
/*
 * Copyright (c) 2024, Syndicate Storage Project. All rights reserved.
 */
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RequestKind mirrors ms_gateway_request_info.type.
type RequestKind int32

const (
	KindManifest RequestKind = 1
	KindBlock    RequestKind = 2
)

// field numbers, fixed by the wire contract in spec §6.
const (
	fieldType       = 1
	fieldFileID     = 2
	fieldFileVer    = 3
	fieldBlockID    = 4
	fieldBlockVer   = 5
	fieldSize       = 6
	fieldMtimeSec   = 7
	fieldMtimeNsec  = 8
	fieldOwner      = 9
	fieldWriter     = 10
	fieldVolume     = 11
	fieldHash       = 12
	fieldSignature  = 13
)

// RequestInfo is ms_gateway_request_info: the signed, versioned
// description of one manifest or block transfer.
type RequestInfo struct {
	Type          RequestKind
	FileID        uint64
	FileVersion   int64
	BlockID       uint64
	BlockVersion  int64
	Size          int64
	FileMtimeSec  int64
	FileMtimeNsec int64
	Owner         uint64
	Writer        uint64
	Volume        uint64
	Hash          []byte // base64 text is NOT applied here; caller encodes per spec §4.1
	Signature     []byte // cleared before signing, populated after
}

// Marshal serializes info into the protobuf wire format. Signature is
// included as-is: callers that need "signature cleared" semantics
// (spec §4.1) must pass a copy with Signature set to nil and then
// re-marshal once the signature bytes are known.
func (info *RequestInfo) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.Type))
	b = protowire.AppendTag(b, fieldFileID, protowire.VarintType)
	b = protowire.AppendVarint(b, info.FileID)
	b = protowire.AppendTag(b, fieldFileVer, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.FileVersion))
	b = protowire.AppendTag(b, fieldBlockID, protowire.VarintType)
	b = protowire.AppendVarint(b, info.BlockID)
	b = protowire.AppendTag(b, fieldBlockVer, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.BlockVersion))
	b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.Size))
	b = protowire.AppendTag(b, fieldMtimeSec, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.FileMtimeSec))
	b = protowire.AppendTag(b, fieldMtimeNsec, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.FileMtimeNsec))
	b = protowire.AppendTag(b, fieldOwner, protowire.VarintType)
	b = protowire.AppendVarint(b, info.Owner)
	b = protowire.AppendTag(b, fieldWriter, protowire.VarintType)
	b = protowire.AppendVarint(b, info.Writer)
	b = protowire.AppendTag(b, fieldVolume, protowire.VarintType)
	b = protowire.AppendVarint(b, info.Volume)
	b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
	b = protowire.AppendBytes(b, info.Hash)
	if len(info.Signature) > 0 {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, info.Signature)
	}
	return b
}

// Unmarshal decodes a RequestInfo previously produced by Marshal; its
// only caller in this module is the package's own round-trip test.
func Unmarshal(b []byte) (*RequestInfo, error) {
	info := &RequestInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("pb: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldType, fieldFileID, fieldFileVer, fieldBlockID, fieldBlockVer,
			fieldSize, fieldMtimeSec, fieldMtimeNsec, fieldOwner, fieldWriter, fieldVolume:
			if typ != protowire.VarintType {
				return nil, fmt.Errorf("pb: field %d: unexpected wire type %d", num, typ)
			}
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("pb: field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			assignVarint(info, num, v)
		case fieldHash, fieldSignature:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("pb: field %d: unexpected wire type %d", num, typ)
			}
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("pb: field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			if num == fieldHash {
				info.Hash = append([]byte(nil), v...)
			} else {
				info.Signature = append([]byte(nil), v...)
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("pb: field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return info, nil
}

func assignVarint(info *RequestInfo, field int, v uint64) {
	switch field {
	case fieldType:
		info.Type = RequestKind(v)
	case fieldFileID:
		info.FileID = v
	case fieldFileVer:
		info.FileVersion = int64(v)
	case fieldBlockID:
		info.BlockID = v
	case fieldBlockVer:
		info.BlockVersion = int64(v)
	case fieldSize:
		info.Size = int64(v)
	case fieldMtimeSec:
		info.FileMtimeSec = int64(v)
	case fieldMtimeNsec:
		info.FileMtimeNsec = int64(v)
	case fieldOwner:
		info.Owner = v
	case fieldWriter:
		info.Writer = v
	case fieldVolume:
		info.Volume = v
	}
}
