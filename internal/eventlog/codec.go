package eventlog

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"collabsync/internal/session"
)

// Blob envelope: [data_version uvarint][payload_len uvarint][zlib payload]
// [16-byte footer]. The footer is written last; readers verify it before
// trusting anything else, so a crash mid-write is detected instead of
// yielding partial data. Package blobs carry an info header between the
// version and the body, located through a forward offset patched after the
// body is written.

const blobDataVersion = 1

const footerSize = 16

// Distinct footer magics for the two blob kinds.
var (
	transactionFooter = [footerSize]byte{
		0x70, 0xC0, 0x73, 0xE4, 0xBF, 0x42, 0xDA, 0x65,
		0x78, 0x7C, 0x60, 0xA0, 0xCF, 0x47, 0xDC, 0xE0,
	}
	packageFooter = [footerSize]byte{
		0xDD, 0x8C, 0xFC, 0x2E, 0xC0, 0x46, 0x8E, 0x74,
		0x69, 0x57, 0x48, 0xA5, 0x54, 0xC3, 0xA3, 0x13,
	}
)

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func compressInto(buf *bytes.Buffer, payload []byte) error {
	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func decompress(r io.Reader, uncompressedLen uint64) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	payload := make([]byte, uncompressedLen)
	if _, err := io.ReadFull(zr, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// checkFooter verifies the trailing magic before any other parsing.
func checkFooter(blob []byte, want [footerSize]byte) error {
	if len(blob) < footerSize || !bytes.Equal(blob[len(blob)-footerSize:], want[:]) {
		return session.Errorf(session.CodeStorageCorrupt, "blob footer missing or mismatched (interrupted write?)")
	}
	return nil
}

// encodeTransactionBlob frames a serialized transaction payload.
func encodeTransactionBlob(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	putUvarint(&buf, blobDataVersion)
	putUvarint(&buf, uint64(len(payload)))
	if len(payload) > 0 {
		if err := compressInto(&buf, payload); err != nil {
			return nil, fmt.Errorf("failed to compress transaction payload: %w", err)
		}
	}
	buf.Write(transactionFooter[:])
	return buf.Bytes(), nil
}

// decodeTransactionBlob unpacks a framed transaction payload. A missing or
// mismatched footer fails with StorageCorrupt, never with partial data.
func decodeTransactionBlob(blob []byte) ([]byte, error) {
	if err := checkFooter(blob, transactionFooter); err != nil {
		return nil, err
	}
	r := bytes.NewReader(blob[:len(blob)-footerSize])
	version, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, session.WrapStorage(session.CodeStorageCorrupt, "truncated transaction blob", err)
	}
	if version > blobDataVersion {
		return nil, session.Errorf(session.CodeStorageCorrupt, "transaction blob version %d is newer than supported %d", version, blobDataVersion)
	}
	payloadLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, session.WrapStorage(session.CodeStorageCorrupt, "truncated transaction blob", err)
	}
	if payloadLen == 0 {
		return nil, nil
	}
	payload, err := decompress(r, payloadLen)
	if err != nil {
		return nil, session.WrapStorage(session.CodeStorageCorrupt, "failed to decompress transaction payload", err)
	}
	return payload, nil
}

// encodePackageBlob frames a package info header plus raw package data.
// The body offset slot is patched once the header length is known.
func encodePackageBlob(info *PackageInfo, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	putUvarint(&buf, blobDataVersion)

	// Reserve the body offset, then write the header.
	offsetSlot := buf.Len()
	var offsetBytes [8]byte
	buf.Write(offsetBytes[:])

	header, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode package info: %w", err)
	}
	putUvarint(&buf, uint64(len(header)))
	buf.Write(header)

	// Patch the forward reference now that the body position is known.
	blob := buf.Bytes()
	binary.LittleEndian.PutUint64(blob[offsetSlot:offsetSlot+8], uint64(len(blob)))

	putUvarint(&buf, uint64(len(data)))
	if len(data) > 0 {
		if err := compressInto(&buf, data); err != nil {
			return nil, fmt.Errorf("failed to compress package data: %w", err)
		}
	}
	buf.Write(packageFooter[:])
	return buf.Bytes(), nil
}

// RewritePackageBlobInfo replaces the info header of a framed package blob
// without touching the compressed body. Bulk session copies use this to
// retarget the header while splicing the body bytes verbatim.
func RewritePackageBlobInfo(blob []byte, info *PackageInfo) ([]byte, error) {
	if err := checkFooter(blob, packageFooter); err != nil {
		return nil, err
	}
	trimmed := blob[:len(blob)-footerSize]
	r := bytes.NewReader(trimmed)
	version, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, session.WrapStorage(session.CodeStorageCorrupt, "truncated package blob", err)
	}
	if version > blobDataVersion {
		return nil, session.Errorf(session.CodeStorageCorrupt, "package blob version %d is newer than supported %d", version, blobDataVersion)
	}
	var offsetBytes [8]byte
	if _, err := io.ReadFull(r, offsetBytes[:]); err != nil {
		return nil, session.WrapStorage(session.CodeStorageCorrupt, "truncated package blob", err)
	}
	bodyOffset := binary.LittleEndian.Uint64(offsetBytes[:])
	if bodyOffset > uint64(len(trimmed)) {
		return nil, session.Errorf(session.CodeStorageCorrupt, "package blob body offset out of range")
	}
	body := trimmed[bodyOffset:]

	var buf bytes.Buffer
	putUvarint(&buf, blobDataVersion)
	offsetSlot := buf.Len()
	buf.Write(offsetBytes[:8])

	header, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode package info: %w", err)
	}
	putUvarint(&buf, uint64(len(header)))
	buf.Write(header)
	binary.LittleEndian.PutUint64(buf.Bytes()[offsetSlot:offsetSlot+8], uint64(buf.Len()))

	buf.Write(body)
	buf.Write(packageFooter[:])
	return buf.Bytes(), nil
}

// decodePackageBlob unpacks a framed package blob. Either out parameter may
// be nil to skip that part; the body is located via the patched offset so
// metadata reads never touch the (potentially large) compressed body.
func decodePackageBlob(blob []byte, outInfo *PackageInfo, outData *[]byte) error {
	if err := checkFooter(blob, packageFooter); err != nil {
		return err
	}
	trimmed := blob[:len(blob)-footerSize]
	r := bytes.NewReader(trimmed)
	version, err := binary.ReadUvarint(r)
	if err != nil {
		return session.WrapStorage(session.CodeStorageCorrupt, "truncated package blob", err)
	}
	if version > blobDataVersion {
		return session.Errorf(session.CodeStorageCorrupt, "package blob version %d is newer than supported %d", version, blobDataVersion)
	}

	var offsetBytes [8]byte
	if _, err := io.ReadFull(r, offsetBytes[:]); err != nil {
		return session.WrapStorage(session.CodeStorageCorrupt, "truncated package blob", err)
	}
	bodyOffset := binary.LittleEndian.Uint64(offsetBytes[:])
	if bodyOffset > uint64(len(trimmed)) {
		return session.Errorf(session.CodeStorageCorrupt, "package blob body offset out of range")
	}

	if outInfo != nil {
		headerLen, err := binary.ReadUvarint(r)
		if err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "truncated package blob", err)
		}
		header := make([]byte, headerLen)
		if _, err := io.ReadFull(r, header); err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "truncated package blob", err)
		}
		if err := json.Unmarshal(header, outInfo); err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "malformed package info header", err)
		}
	}

	if outData != nil {
		br := bytes.NewReader(trimmed[bodyOffset:])
		dataLen, err := binary.ReadUvarint(br)
		if err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "truncated package blob", err)
		}
		if dataLen == 0 {
			*outData = nil
			return nil
		}
		data, err := decompress(br, dataLen)
		if err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "failed to decompress package data", err)
		}
		*outData = data
	}
	return nil
}
