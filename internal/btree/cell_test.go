package btree

import (
	"bytes"
	"encoding/binary"
	"testing"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

func TestLocalPayloadSize(t *testing.T) {
	const usable = 4096
	maxLocal := MaxLocal(usable) // 4061
	minLocal := MinLocal(usable) // 489

	if maxLocal != 4061 {
		t.Errorf("MaxLocal = %d, want 4061", maxLocal)
	}
	if minLocal != (usable-12)*32/255-23 {
		t.Errorf("MinLocal = %d", minLocal)
	}

	// Payloads up to the limit stay fully inline.
	for _, p := range []int{0, 1, maxLocal} {
		if got := LocalPayloadSize(p, usable); got != p {
			t.Errorf("LocalPayloadSize(%d) = %d, want %d", p, got, p)
		}
	}

	// Spilled payloads keep between minLocal and maxLocal bytes inline.
	for _, p := range []int{maxLocal + 1, 10000, 100000} {
		got := LocalPayloadSize(p, usable)
		if got < minLocal || got > maxLocal {
			t.Errorf("LocalPayloadSize(%d) = %d, outside [%d, %d]", p, got, minLocal, maxLocal)
		}
		// The standard formula: K = M + (P-M) mod (U-4), clamped to M
		k := minLocal + (p-minLocal)%(usable-4)
		want := k
		if k > maxLocal {
			want = minLocal
		}
		if got != want {
			t.Errorf("LocalPayloadSize(%d) = %d, want %d", p, got, want)
		}
	}
}

func TestBuildParseLeafCellInline(t *testing.T) {
	const usable = 4096
	payload := bytes.Repeat([]byte{0xAB}, 100)

	dest := make([]byte, 200)
	n, spill, err := BuildTableLeafCell(77, payload, dest, usable)
	if err != nil {
		t.Fatalf("BuildTableLeafCell() error = %v", err)
	}
	if len(spill) != 0 {
		t.Fatalf("unexpected spill of %d bytes", len(spill))
	}

	cell, err := ParseTableLeafCell(dest[:n], usable)
	if err != nil {
		t.Fatalf("ParseTableLeafCell() error = %v", err)
	}
	if cell.Rowid != 77 {
		t.Errorf("Rowid = %d, want 77", cell.Rowid)
	}
	if cell.PayloadSize != 100 {
		t.Errorf("PayloadSize = %d, want 100", cell.PayloadSize)
	}
	if cell.OverflowPage != 0 {
		t.Errorf("OverflowPage = %d, want 0", cell.OverflowPage)
	}
	if !bytes.Equal(cell.Local, payload) {
		t.Error("inline payload mismatch")
	}
	if cell.CellSize != n {
		t.Errorf("CellSize = %d, want %d", cell.CellSize, n)
	}
}

func TestBuildParseLeafCellSpill(t *testing.T) {
	const usable = 512
	payload := bytes.Repeat([]byte{0xCD}, 2000)
	local := LocalPayloadSize(len(payload), usable)
	if local >= len(payload) {
		t.Fatal("test payload should spill")
	}

	dest := make([]byte, 600)
	n, spill, err := BuildTableLeafCell(5, payload, dest, usable)
	if err != nil {
		t.Fatalf("BuildTableLeafCell() error = %v", err)
	}
	if len(spill) != len(payload)-local {
		t.Fatalf("spill = %d bytes, want %d", len(spill), len(payload)-local)
	}

	SetOverflowPointer(dest[:n], 42)

	cell, err := ParseTableLeafCell(dest[:n], usable)
	if err != nil {
		t.Fatalf("ParseTableLeafCell() error = %v", err)
	}
	if cell.OverflowPage != 42 {
		t.Errorf("OverflowPage = %d, want 42", cell.OverflowPage)
	}
	if len(cell.Local) != local {
		t.Errorf("Local = %d bytes, want %d", len(cell.Local), local)
	}
	if !bytes.Equal(cell.Local, payload[:local]) {
		t.Error("inline prefix mismatch")
	}
}

func TestParseLeafCellTruncated(t *testing.T) {
	if _, err := ParseTableLeafCell(nil, 4096); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("empty cell error = %v, want ErrCorruptPage", err)
	}

	// Declares 50 payload bytes but provides none.
	cell := []byte{50, 1}
	if _, err := ParseTableLeafCell(cell, 4096); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("truncated cell error = %v, want ErrCorruptPage", err)
	}
}

func TestParseInteriorCell(t *testing.T) {
	cell := make([]byte, 16)
	binary.BigEndian.PutUint32(cell, 9)
	n := PutVarint(cell[4:], 12345)

	child, key, size, err := ParseTableInteriorCell(cell)
	if err != nil {
		t.Fatalf("ParseTableInteriorCell() error = %v", err)
	}
	if child != 9 || key != 12345 || size != 4+n {
		t.Errorf("got (%d, %d, %d)", child, key, size)
	}

	if _, _, _, err := ParseTableInteriorCell(cell[:3]); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("short cell error = %v, want ErrCorruptPage", err)
	}
}
