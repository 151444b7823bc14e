package replicate

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/syndicate-storage/gateway/cmn"
	"github.com/syndicate-storage/gateway/replicate/pb"
)

const gcHashPadding = 256 // spec §4.1, §9: wire-compat random padding on DELETE envelopes

// buildRequest constructs and signs one ArtifactRequest (spec §4.1):
// a protobuf ms_gateway_request_info envelope over snap, with hash and
// signature populated appropriately for op.
func buildRequest(snap Snapshot, kind ArtifactKind, op Op, payload []byte, signer Signer) (*pb.RequestInfo, error) {
	info := &pb.RequestInfo{
		FileID:        snap.FileID,
		FileVersion:   snap.FileVersion,
		BlockID:       snap.BlockID,
		BlockVersion:  snap.BlockVersion,
		FileMtimeSec:  snap.MtimeSec,
		FileMtimeNsec: snap.MtimeNsec,
		Owner:         snap.OwnerID,
		Writer:        snap.WriterID,
		Volume:        snap.VolumeID,
	}
	if kind == KindManifest {
		info.Type = pb.KindManifest
	} else {
		info.Type = pb.KindBlock
	}

	switch op {
	case OpPost:
		info.Size = int64(len(payload))
		digest := sha256.Sum256(payload)
		info.Hash = []byte(base64.StdEncoding.EncodeToString(digest[:]))
	case OpDelete:
		// spec §4.1, §9: DELETE carries no payload; fill the hash
		// field with random padding so the signed envelope is not
		// structurally distinguishable from a POST by a passive
		// observer. The RG does not verify it (spec §9, open question).
		info.Size = 0
		pad := make([]byte, gcHashPadding)
		if _, err := rand.Read(pad); err != nil {
			return nil, cmn.NewError(cmn.ErrLocalIO, err)
		}
		info.Hash = []byte(base64.StdEncoding.EncodeToString(pad))
	}

	// sign over the envelope with the signature field cleared, then
	// attach the base64 signature (spec §4.1, §6).
	unsigned := info.Marshal()
	sig, err := signer.Sign(unsigned)
	if err != nil {
		return nil, cmn.NewError(cmn.ErrLocalIO, err)
	}
	info.Signature = []byte(base64.StdEncoding.EncodeToString(sig))
	return info, nil
}

// buildForm assembles the two-part multipart/form-data body (spec
// §4.1, §6): "metadata" always, "data" only for POST. Both parts are
// application/octet-stream; a block's data part additionally carries
// filename "block" to signal a file upload.
func buildForm(signed *pb.RequestInfo, kind ArtifactKind, op Op, payload []byte) (body *bytes.Buffer, contentType string, err error) {
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)

	metaHdr := partHeader("metadata", "")
	mw, err := w.CreatePart(metaHdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := mw.Write(signed.Marshal()); err != nil {
		return nil, "", err
	}

	if op == OpPost {
		filename := ""
		if kind == KindBlock {
			filename = "block"
		}
		dataHdr := partHeader("data", filename)
		dw, err := w.CreatePart(dataHdr)
		if err != nil {
			return nil, "", err
		}
		if _, err := dw.Write(payload); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func partHeader(name, filename string) (h map[string][]string) {
	h = map[string][]string{
		"Content-Disposition": {dispositionValue(name, filename)},
		"Content-Type":        {"application/octet-stream"},
	}
	return h
}

func dispositionValue(name, filename string) string {
	if filename == "" {
		return fmt.Sprintf(`form-data; name=%q`, name)
	}
	return fmt.Sprintf(`form-data; name=%q; filename=%q`, name, filename)
}

// readAllClose drains r fully and closes it, used when materializing
// a block's payload out of BlockStore's stream (see context.go).
func readAllClose(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
