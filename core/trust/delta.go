package trust

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/core/sharc"
	"github.com/sharcdb/sharc/internal/logging"
)

// Delta exchange: each ledger entry travels as one record-encoded byte
// string carrying an explicit sequence number (the stored row keeps the
// sequence in the rowid instead). The receiver reassembles the chain and
// rejects anything it cannot verify.

// encodeDelta serialises an entry for the wire.
func encodeDelta(e Entry) ([]byte, error) {
	return sharc.EncodeRecord([]sharc.Value{
		sharc.Int64(e.Sequence),
		sharc.Int64(e.Timestamp),
		sharc.Text(e.AgentID),
		sharc.Blob(e.Payload),
		sharc.Blob(e.PayloadHash[:]),
		sharc.Blob(e.PreviousHash[:]),
		sharc.Blob(e.Signature),
	})
}

// decodeDelta parses a wire record back into an entry.
func decodeDelta(record []byte) (Entry, error) {
	values, err := sharc.DecodeRecord(record)
	if err != nil {
		return Entry{}, err
	}
	if len(values) != 7 {
		return Entry{}, sharcerr.Wrap(sharcerr.ErrInvalidArgument,
			"delta record does not have 7 columns")
	}
	e := Entry{
		Sequence:  values[0].Int,
		Timestamp: values[1].Int,
		AgentID:   string(values[2].Bytes),
		Payload:   bytes.Clone(values[3].Bytes),
		Signature: bytes.Clone(values[6].Bytes),
	}
	if len(values[4].Bytes) != HashLen || len(values[5].Bytes) != HashLen {
		return Entry{}, sharcerr.Wrap(sharcerr.ErrInvalidArgument,
			"delta record hash is not 32 bytes")
	}
	copy(e.PayloadHash[:], values[4].Bytes)
	copy(e.PreviousHash[:], values[5].Bytes)
	return e, nil
}

// ExportDeltas returns the record-encoded entries with sequence numbers
// >= fromSeq, in order.
func (l *Ledger) ExportDeltas(fromSeq int64) ([][]byte, error) {
	var records [][]byte
	err := l.walk(fromSeq, func(e Entry) error {
		rec, err := encodeDelta(e)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ImportDeltas applies a batch of exported records. Each record must be
// the next expected sequence, come from an agent in the registry, link
// to the local head, and carry a valid signature. The first rejected
// record stops the batch: it and everything after it are dropped, while
// prior records stay applied. The error identifies the offending
// sequence.
func (l *Ledger) ImportDeltas(records [][]byte, registry *Registry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	head, haveHead, err := l.Head()
	if err != nil {
		return err
	}
	expected := int64(1)
	var prevHash [HashLen]byte
	if haveHead {
		expected = head.Sequence + 1
		prevHash = head.PayloadHash
	}

	for _, record := range records {
		e, err := decodeDelta(record)
		if err != nil {
			return err
		}

		if e.Sequence != expected {
			logging.SecurityEvent("delta_sequence_conflict", e.AgentID,
				"sequence", e.Sequence, "expected", expected)
			return sharcerr.NewLedger(e.Sequence, sharcerr.ErrSequenceConflict)
		}

		agent, err := registry.GetAgent(e.AgentID)
		if err != nil {
			logging.SecurityEvent("delta_unknown_agent", e.AgentID, "sequence", e.Sequence)
			return sharcerr.NewLedger(e.Sequence, sharcerr.ErrUnknownAgent)
		}
		pub, err := agent.publicKey()
		if err != nil {
			return sharcerr.NewLedger(e.Sequence, sharcerr.ErrUnknownAgent)
		}

		if sha256.Sum256(e.Payload) != e.PayloadHash || e.PreviousHash != prevHash {
			logging.SecurityEvent("delta_hash_chain_broken", e.AgentID, "sequence", e.Sequence)
			return sharcerr.NewLedger(e.Sequence, sharcerr.ErrHashChainBroken)
		}

		if !VerifySignature(pub, e.SigningMessage(), e.Signature) {
			logging.SecurityEvent("delta_invalid_signature", e.AgentID, "sequence", e.Sequence)
			return sharcerr.NewLedger(e.Sequence, sharcerr.ErrInvalidSignature)
		}

		if err := l.appendEntry(e); err != nil {
			return err
		}
		prevHash = e.PayloadHash
		expected++
	}
	return nil
}

// Delta archive framing: magic, record count, length-prefixed records,
// then a BLAKE3 digest over every record. The digest catches transport
// corruption before any record touches the chain; per-entry authenticity
// still rests on the ECDSA signatures.

var deltaMagic = [8]byte{'S', 'H', 'R', 'C', 'D', 'L', 'T', '1'}

const deltaDigestLen = 32

// WriteArchive frames records into w, optionally xz-compressed.
func WriteArchive(w io.Writer, records [][]byte, compress bool) error {
	var out io.Writer = w
	var xw *xz.Writer
	if compress {
		var err error
		xw, err = xz.NewWriter(w)
		if err != nil {
			return sharcerr.Wrap(err, "opening xz writer")
		}
		out = xw
	}

	if _, err := out.Write(deltaMagic[:]); err != nil {
		return sharcerr.NewIO("write", "delta archive", err)
	}
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(records)))
	if _, err := out.Write(scratch[:4]); err != nil {
		return sharcerr.NewIO("write", "delta archive", err)
	}

	digest := blake3.New()
	for _, rec := range records {
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(rec)))
		if _, err := out.Write(scratch[:4]); err != nil {
			return sharcerr.NewIO("write", "delta archive", err)
		}
		if _, err := out.Write(rec); err != nil {
			return sharcerr.NewIO("write", "delta archive", err)
		}
		digest.Write(rec)
	}

	if _, err := out.Write(digest.Sum(nil)[:deltaDigestLen]); err != nil {
		return sharcerr.NewIO("write", "delta archive", err)
	}
	if xw != nil {
		if err := xw.Close(); err != nil {
			return sharcerr.NewIO("close", "delta archive", err)
		}
	}
	return nil
}

// ReadArchive parses a delta archive, verifying the trailing digest.
// Compression is detected from the magic bytes.
func ReadArchive(r io.Reader) ([][]byte, error) {
	br := newPeekReader(r)
	head, err := br.peek(8)
	if err != nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "delta archive too short")
	}
	if !bytes.Equal(head, deltaMagic[:]) {
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not a delta archive")
		}
		return readArchiveBody(xr)
	}
	return readArchiveBody(br)
}

func readArchiveBody(r io.Reader) ([][]byte, error) {
	var scratch [8]byte
	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "delta archive too short")
	}
	if !bytes.Equal(scratch[:], deltaMagic[:]) {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "bad delta archive magic")
	}
	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "delta archive truncated")
	}
	count := binary.BigEndian.Uint32(scratch[:4])

	digest := blake3.New()
	records := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "delta archive truncated")
		}
		n := binary.BigEndian.Uint32(scratch[:4])
		rec := make([]byte, n)
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "delta archive truncated")
		}
		digest.Write(rec)
		records = append(records, rec)
	}

	want := make([]byte, deltaDigestLen)
	if _, err := io.ReadFull(r, want); err != nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "delta archive truncated")
	}
	if !bytes.Equal(digest.Sum(nil)[:deltaDigestLen], want) {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "delta archive digest mismatch")
	}
	return records, nil
}

// peekReader lets ReadArchive sniff the magic before deciding whether to
// stack an xz reader.
type peekReader struct {
	r   io.Reader
	buf []byte
}

func newPeekReader(r io.Reader) *peekReader { return &peekReader{r: r} }

func (p *peekReader) peek(n int) ([]byte, error) {
	for len(p.buf) < n {
		chunk := make([]byte, n-len(p.buf))
		m, err := p.r.Read(chunk)
		p.buf = append(p.buf, chunk[:m]...)
		if err != nil {
			return nil, err
		}
	}
	return p.buf[:n], nil
}

func (p *peekReader) Read(b []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	return p.r.Read(b)
}
