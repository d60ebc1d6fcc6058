package null

import (
	"bytes"
	"context"
	"testing"
)

func TestAlwaysSparseWithoutRecording(t *testing.T) {
	src := New(8192, 4096, false)
	ctx := context.Background()

	if err := src.WriteBlock(ctx, 0, bytes.Repeat([]byte{9}, 4096)); err != nil {
		t.Fatal(err)
	}
	got, err := src.ReadBlock(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected writes to be discarded when recording is disabled")
	}
}

func TestRecordsWritesWhenEnabled(t *testing.T) {
	src := New(8192, 4096, true)
	ctx := context.Background()
	payload := bytes.Repeat([]byte{7}, 4096)

	if err := src.WriteBlock(ctx, 1, payload); err != nil {
		t.Fatal(err)
	}
	got, err := src.ReadBlock(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("expected recorded write to be reflected back")
	}

	other, err := src.ReadBlock(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Fatal("expected an unwritten block to still read sparse")
	}
}

func TestReadPastEnd(t *testing.T) {
	src := New(4096, 4096, false)
	if _, err := src.ReadBlock(context.Background(), 1); err == nil {
		t.Fatal("expected an error reading past the end of the source")
	}
}
