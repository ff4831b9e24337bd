package trust

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/core/sharc"
	"github.com/sharcdb/sharc/internal/logging"
)

// LedgerTable is the reserved table holding the hash chain.
const LedgerTable = "_sharc_ledger"

const ledgerSQL = `CREATE TABLE _sharc_ledger (
	SequenceNumber INTEGER PRIMARY KEY,
	Timestamp INTEGER NOT NULL,
	AgentId TEXT NOT NULL,
	Payload BLOB,
	PayloadHash BLOB NOT NULL,
	PreviousHash BLOB NOT NULL,
	Signature BLOB NOT NULL
)`

// HashLen is the SHA-256 digest length used throughout the chain.
const HashLen = sha256.Size

// Entry is one ledger row.
type Entry struct {
	Sequence     int64
	Timestamp    int64 // epoch milliseconds
	AgentID      string
	Payload      []byte
	PayloadHash  [HashLen]byte
	PreviousHash [HashLen]byte
	Signature    []byte
}

// SigningMessage returns the bytes an agent signs for this entry:
// sequence ‖ timestamp ‖ agent id ‖ payload hash ‖ previous hash.
func (e *Entry) SigningMessage() []byte {
	msg := make([]byte, 0, 16+len(e.AgentID)+2*HashLen)
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(e.Sequence))
	msg = append(msg, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(e.Timestamp))
	msg = append(msg, scratch[:]...)
	msg = append(msg, e.AgentID...)
	msg = append(msg, e.PayloadHash[:]...)
	msg = append(msg, e.PreviousHash[:]...)
	return msg
}

// Ledger manages the append-only hash chain stored in _sharc_ledger.
// Appends serialise on the ledger's writer lock so concurrent callers
// produce a gapless chain.
type Ledger struct {
	mu sync.Mutex
	db *sharc.Database
	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewLedger attaches a ledger manager to the database, creating the
// reserved table if missing.
func NewLedger(db *sharc.Database) (*Ledger, error) {
	if !db.HasTable(LedgerTable) {
		if db.Writable() {
			if err := db.CreateTable(LedgerTable, ledgerSQL); err != nil {
				return nil, err
			}
		} else {
			return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
				"database has no %s table", LedgerTable)
		}
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Head returns the last entry of the chain, or ok == false for an empty
// ledger.
func (l *Ledger) Head() (Entry, bool, error) {
	last, ok, err := l.db.LastRowid(LedgerTable)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return l.entryAt(last)
}

func (l *Ledger) entryAt(seq int64) (Entry, bool, error) {
	values, found, err := l.db.ReadRow(LedgerTable, seq)
	if err != nil || !found {
		return Entry{}, false, err
	}
	e, err := entryFromValues(seq, values)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// entryFromValues maps a decoded ledger row to an Entry. The sequence
// column is the rowid alias, so its cell is NULL and seq comes from the
// caller.
func entryFromValues(seq int64, values []sharc.Value) (Entry, error) {
	if len(values) != 7 {
		return Entry{}, sharcerr.NewCorrupt(0, "ledger row does not have 7 columns")
	}
	e := Entry{
		Sequence:  seq,
		Timestamp: values[1].Int,
		AgentID:   string(values[2].Bytes),
		Payload:   values[3].Bytes,
		Signature: values[6].Bytes,
	}
	if len(values[4].Bytes) != HashLen || len(values[5].Bytes) != HashLen {
		return Entry{}, sharcerr.NewCorrupt(0, "ledger hash column is not 32 bytes")
	}
	copy(e.PayloadHash[:], values[4].Bytes)
	copy(e.PreviousHash[:], values[5].Bytes)
	return e, nil
}

func (e *Entry) values() []sharc.Value {
	return []sharc.Value{
		sharc.Null(), // rowid alias
		sharc.Int64(e.Timestamp),
		sharc.Text(e.AgentID),
		sharc.Blob(e.Payload),
		sharc.Blob(e.PayloadHash[:]),
		sharc.Blob(e.PreviousHash[:]),
		sharc.Blob(e.Signature),
	}
}

// Append signs and appends a payload as the next chain entry and returns
// it. The previous hash links to the head's payload hash; entry 1 links
// to the all-zero hash.
func (l *Ledger) Append(payload []byte, signer Signer) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	head, ok, err := l.Head()
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Sequence:  1,
		Timestamp: l.now().UnixMilli(),
		AgentID:   signer.AgentID(),
		Payload:   payload,
	}
	if ok {
		e.Sequence = head.Sequence + 1
		e.PreviousHash = head.PayloadHash
	}
	e.PayloadHash = sha256.Sum256(payload)

	sig, err := signer.Sign(e.SigningMessage())
	if err != nil {
		return Entry{}, err
	}
	e.Signature = sig

	if err := l.appendEntry(e); err != nil {
		return Entry{}, err
	}
	logging.LedgerAppend(e.Sequence, e.AgentID, len(payload))
	return e, nil
}

// appendEntry writes a fully-formed entry as one row.
func (l *Ledger) appendEntry(e Entry) error {
	return l.db.AppendRow(LedgerTable, e.Sequence, e.values())
}

// walk iterates entries in sequence order.
func (l *Ledger) walk(fromSeq int64, fn func(Entry) error) error {
	r, err := l.db.CreateReader(LedgerTable, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		ok, err := r.Read()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if r.Rowid() < fromSeq {
			continue
		}
		values := make([]sharc.Value, 7)
		for i := 0; i < 7; i++ {
			v, err := r.GetValue(i)
			if err != nil {
				return err
			}
			values[i] = v
		}
		e, err := entryFromValues(r.Rowid(), values)
		if err != nil {
			return err
		}
		// Detach borrowed views before the next Read.
		e.Payload = bytes.Clone(e.Payload)
		e.Signature = bytes.Clone(e.Signature)
		if err := fn(e); err != nil {
			return err
		}
	}
}

// VerifyIntegrity walks the whole chain and checks sequence
// monotonicity, payload hashes, hash links, and signatures against the
// supplied per-agent public keys. It reports the first failing sequence
// number; signature checks run in parallel after the chain walk.
func (l *Ledger) VerifyIntegrity(keys map[string]*ecdsa.PublicKey) (bool, int64, error) {
	var entries []Entry
	expected := int64(1)
	var prev [HashLen]byte
	firstBad := int64(0)

	err := l.walk(1, func(e Entry) error {
		if firstBad != 0 {
			return nil
		}
		if e.Sequence != expected {
			firstBad = e.Sequence
			return nil
		}
		if sha256.Sum256(e.Payload) != e.PayloadHash {
			firstBad = e.Sequence
			return nil
		}
		if e.PreviousHash != prev {
			firstBad = e.Sequence
			return nil
		}
		prev = e.PayloadHash
		expected++
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return false, 0, err
	}

	// Hashes are chained; signatures are independent per entry. Entries
	// before a chain break are still checked so an earlier bad signature
	// is the one reported.
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range entries {
		e := &entries[i]
		g.Go(func() error {
			pub := keys[e.AgentID]
			if pub == nil || !VerifySignature(pub, e.SigningMessage(), e.Signature) {
				mu.Lock()
				if firstBad == 0 || e.Sequence < firstBad {
					firstBad = e.Sequence
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, 0, err
	}

	logging.LedgerVerify(firstBad == 0, int64(len(entries)), firstBad)
	return firstBad == 0, firstBad, nil
}
