package eventlog

import (
	"bytes"
	"testing"

	"collabsync/internal/session"
)

func TestTransactionBlobRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"small": []byte(`{"op":"move","actor":"Cube_1"}`),
		"empty": nil,
		"large": bytes.Repeat([]byte("transaction payload block "), 64*1024),
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			blob, err := encodeTransactionBlob(payload)
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			got, err := decodeTransactionBlob(blob)
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("Round trip mismatch: %d bytes in, %d bytes out", len(payload), len(got))
			}
		})
	}
}

func TestTransactionBlobCorruptFooter(t *testing.T) {
	blob, err := encodeTransactionBlob([]byte("payload"))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	// Flip a byte inside the trailing magic.
	blob[len(blob)-8] ^= 0xFF
	if _, err := decodeTransactionBlob(blob); !session.IsCode(err, session.CodeStorageCorrupt) {
		t.Errorf("Expected StorageCorrupt for corrupted footer, got %v", err)
	}

	// Truncated below footer size.
	if _, err := decodeTransactionBlob(blob[:8]); !session.IsCode(err, session.CodeStorageCorrupt) {
		t.Errorf("Expected StorageCorrupt for truncated blob, got %v", err)
	}
}

func TestTransactionBlobFooterMismatch(t *testing.T) {
	// A package blob must not decode as a transaction blob.
	blob, err := encodePackageBlob(&PackageInfo{PackageName: "/Game/Map"}, []byte("data"))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if _, err := decodeTransactionBlob(blob); !session.IsCode(err, session.CodeStorageCorrupt) {
		t.Errorf("Expected StorageCorrupt for wrong footer kind, got %v", err)
	}
}

func TestPackageBlobRoundTrip(t *testing.T) {
	info := PackageInfo{
		PackageName:              "/Game/Maps/Factory",
		UpdateType:               PackageUpdateSaved,
		TransactionEventIDAtSave: 42,
	}
	data := bytes.Repeat([]byte("package body "), 16*1024)

	blob, err := encodePackageBlob(&info, data)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	var gotInfo PackageInfo
	var gotData []byte
	if err := decodePackageBlob(blob, &gotInfo, &gotData); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if gotInfo != info {
		t.Errorf("Info mismatch: got %+v, want %+v", gotInfo, info)
	}
	if !bytes.Equal(gotData, data) {
		t.Errorf("Data mismatch: %d bytes in, %d bytes out", len(data), len(gotData))
	}
}

func TestPackageBlobMetadataOnlyRead(t *testing.T) {
	info := PackageInfo{PackageName: "/Game/Props/Crate", UpdateType: PackageUpdateAdded, TransactionEventIDAtSave: 7}
	blob, err := encodePackageBlob(&info, []byte("body"))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	var gotInfo PackageInfo
	if err := decodePackageBlob(blob, &gotInfo, nil); err != nil {
		t.Fatalf("Failed to decode header: %v", err)
	}
	if gotInfo != info {
		t.Errorf("Info mismatch: got %+v, want %+v", gotInfo, info)
	}

	var gotData []byte
	if err := decodePackageBlob(blob, nil, &gotData); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if string(gotData) != "body" {
		t.Errorf("Body mismatch: got %q", gotData)
	}
}

func TestPackageBlobEmptyBody(t *testing.T) {
	info := PackageInfo{PackageName: "/Game/Empty", UpdateType: PackageUpdateDummy, TransactionEventIDAtSave: 3}
	blob, err := encodePackageBlob(&info, nil)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	var gotInfo PackageInfo
	var gotData []byte
	if err := decodePackageBlob(blob, &gotInfo, &gotData); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if gotInfo != info {
		t.Errorf("Info mismatch: got %+v, want %+v", gotInfo, info)
	}
	if gotData != nil {
		t.Errorf("Expected nil body, got %d bytes", len(gotData))
	}
}

func TestRewritePackageBlobInfo(t *testing.T) {
	original := PackageInfo{PackageName: "/Game/Maps/Factory", UpdateType: PackageUpdateSaved, TransactionEventIDAtSave: 42}
	body := bytes.Repeat([]byte("body chunk "), 4096)
	blob, err := encodePackageBlob(&original, body)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	retargeted := original
	retargeted.TransactionEventIDAtSave = 3
	rewritten, err := RewritePackageBlobInfo(blob, &retargeted)
	if err != nil {
		t.Fatalf("Failed to rewrite: %v", err)
	}

	var gotInfo PackageInfo
	var gotData []byte
	if err := decodePackageBlob(rewritten, &gotInfo, &gotData); err != nil {
		t.Fatalf("Failed to decode rewritten blob: %v", err)
	}
	if gotInfo != retargeted {
		t.Errorf("Info mismatch: got %+v, want %+v", gotInfo, retargeted)
	}
	if !bytes.Equal(gotData, body) {
		t.Errorf("Body changed across rewrite: %d bytes in, %d bytes out", len(body), len(gotData))
	}
}
