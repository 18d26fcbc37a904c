package buildrecord

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/swincd/driver/internal/vfs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hash := "abc123"
	r := &Record{
		SwiftVersion: "swincd-1.0",
		ArgsHash:     &hash,
		BuildTime:    vfs.Timestamp{Seconds: 1700000000, Nanos: 42},
		Inputs: map[vfs.File]InputInfo{
			{Path: "a.swift"}: {Status: UpToDate, PreviousModTime: vfs.Timestamp{Seconds: 1, Nanos: 2}},
			{Path: "b.swift"}: {Status: NeedsCascadingBuild, PreviousModTime: vfs.Timestamp{Seconds: 3, Nanos: 4}},
			{Path: "c.swift"}: {Status: NeedsNonCascadingBuild, PreviousModTime: vfs.Timestamp{Seconds: 5, Nanos: 6}},
		},
	}

	enc, err := Encode(r, r.ArgsHash)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v\n%s", err, enc)
	}
	// r holds no NewlyAdded input (that status collapses to !dirty on write
	// and reads back as NeedsCascadingBuild, see the next test), so every
	// status survives the round trip unchanged.
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s\n--- encoded ---\n%s", diff, enc)
	}
}

func TestEncodeNewlyAddedCollapsesToDirty(t *testing.T) {
	r := &Record{
		SwiftVersion: "v",
		BuildTime:    vfs.Timestamp{},
		Inputs: map[vfs.File]InputInfo{
			{Path: "a.swift"}: {Status: NewlyAdded},
		},
	}
	enc, err := Encode(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Inputs[vfs.File{Path: "a.swift"}].Status != NeedsCascadingBuild {
		t.Errorf("got status %v, want NeedsCascadingBuild (collapsed from NewlyAdded)", got.Inputs[vfs.File{Path: "a.swift"}].Status)
	}
	if got.ArgsHash != nil {
		t.Errorf("got ArgsHash %v, want nil (absent options)", *got.ArgsHash)
	}
}

func TestDecodeUnexpectedSection(t *testing.T) {
	doc := []byte("version: \"1\"\ninputs: {}\nbogus: \"x\"\n")
	_, err := Decode(doc)
	var use *UnexpectedSectionError
	if err == nil {
		t.Fatal("expected an UnexpectedSectionError")
	}
	if !isUnexpectedSection(err, &use) {
		t.Fatalf("got %v, want *UnexpectedSectionError", err)
	}
}

func isUnexpectedSection(err error, target **UnexpectedSectionError) bool {
	if e, ok := err.(*UnexpectedSectionError); ok {
		*target = e
		return true
	}
	return false
}

func TestDecodeMissingRequiredFields(t *testing.T) {
	if _, err := Decode([]byte("options: \"x\"\ninputs: {}\n")); err == nil {
		t.Fatal("expected error for missing version")
	}
	if _, err := Decode([]byte("version: \"1\"\noptions: \"x\"\n")); err == nil {
		t.Fatal("expected error for missing inputs")
	}
}

func TestMismatchReason(t *testing.T) {
	r := &Record{
		SwiftVersion: "1.0",
		ArgsHash:     strPtr("hash1"),
		Inputs: map[vfs.File]InputInfo{
			{Path: "a.swift"}: {},
		},
	}

	if got := MismatchReason(r, "1.0", "hash1", map[vfs.File]bool{{Path: "a.swift"}: true}, false); got != "" {
		t.Errorf("expected no mismatch, got %q", got)
	}
	if got := MismatchReason(r, "2.0", "hash1", map[vfs.File]bool{{Path: "a.swift"}: true}, false); got == "" {
		t.Error("expected version mismatch")
	}
	if got := MismatchReason(r, "1.0", "hash2", map[vfs.File]bool{{Path: "a.swift"}: true}, false); got == "" {
		t.Error("expected args hash mismatch")
	}
	if got := MismatchReason(r, "1.0", "hash1", map[vfs.File]bool{}, false); got == "" {
		t.Error("expected missing-input mismatch")
	}

	noHash := &Record{SwiftVersion: "1.0", Inputs: map[vfs.File]InputInfo{}}
	if got := MismatchReason(noHash, "1.0", "hash1", map[vfs.File]bool{}, false); got != "" {
		t.Errorf("absent args_hash should still match by default, got %q", got)
	}
	if got := MismatchReason(noHash, "1.0", "hash1", map[vfs.File]bool{}, true); got == "" {
		t.Error("absent args_hash should mismatch under strictArgsHash")
	}
}

func strPtr(s string) *string { return &s }
