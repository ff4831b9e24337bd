package trust

import (
	"crypto/ecdsa"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/core/sharc"
	"github.com/sharcdb/sharc/internal/logging"
)

// AgentsTable is the reserved table holding agent records.
const AgentsTable = "_sharc_agents"

const agentsSQL = `CREATE TABLE _sharc_agents (
	AgentId TEXT NOT NULL,
	Class INTEGER NOT NULL,
	PublicKey BLOB NOT NULL,
	AuthorityCeiling INTEGER NOT NULL,
	WriteScope TEXT,
	ReadScope TEXT,
	ValidityStart INTEGER NOT NULL,
	ValidityEnd INTEGER NOT NULL,
	ParentAgent TEXT,
	CoSignRequired INTEGER NOT NULL,
	Signature BLOB NOT NULL
)`

// AgentClass partitions agents by the kind of principal behind the key.
type AgentClass int

const (
	// ClassHuman is a person with a hardware-backed key.
	ClassHuman AgentClass = iota
	// ClassService is automation owned by an operator.
	ClassService
	// ClassAI is an autonomous model-driven agent.
	ClassAI
)

// Agent is one row of _sharc_agents.
//
// Validity timestamps are epoch milliseconds on both write and read;
// RegisterAgent rejects values that look like epoch seconds so a mixed
// unit can never enter the table.
type Agent struct {
	AgentID          string
	Class            AgentClass
	PublicKey        []byte // SubjectPublicKeyInfo DER, P-256
	AuthorityCeiling int64
	WriteScope       string
	ReadScope        string
	ValidityStart    int64 // epoch ms
	ValidityEnd      int64 // epoch ms; 0 means no expiry
	ParentAgent      string
	CoSignRequired   bool
	Signature        []byte
}

func (a *Agent) publicKey() (*ecdsa.PublicKey, error) {
	return ParsePublicKey(a.PublicKey)
}

// registrationMessage is the canonical byte string signed at
// registration time so row tampering is detectable.
func (a *Agent) registrationMessage() []byte {
	msg := make([]byte, 0, 64+len(a.AgentID)+len(a.PublicKey)+len(a.WriteScope)+len(a.ReadScope))
	var scratch [8]byte
	msg = append(msg, a.AgentID...)
	msg = append(msg, 0)
	binary.BigEndian.PutUint64(scratch[:], uint64(a.Class))
	msg = append(msg, scratch[:]...)
	msg = append(msg, a.PublicKey...)
	binary.BigEndian.PutUint64(scratch[:], uint64(a.AuthorityCeiling))
	msg = append(msg, scratch[:]...)
	msg = append(msg, a.WriteScope...)
	msg = append(msg, 0)
	msg = append(msg, a.ReadScope...)
	msg = append(msg, 0)
	binary.BigEndian.PutUint64(scratch[:], uint64(a.ValidityStart))
	msg = append(msg, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(a.ValidityEnd))
	msg = append(msg, scratch[:]...)
	msg = append(msg, a.ParentAgent...)
	msg = append(msg, 0)
	if a.CoSignRequired {
		msg = append(msg, 1)
	} else {
		msg = append(msg, 0)
	}
	return msg
}

// VerifyRegistration checks the agent row's self-signature.
func (a *Agent) VerifyRegistration() bool {
	pub, err := a.publicKey()
	if err != nil {
		return false
	}
	return VerifySignature(pub, a.registrationMessage(), a.Signature)
}

// ActiveAt reports whether the agent's validity window covers the given
// time.
func (a *Agent) ActiveAt(now time.Time) bool {
	ms := now.UnixMilli()
	if ms < a.ValidityStart {
		return false
	}
	if a.ValidityEnd != 0 && ms > a.ValidityEnd {
		return false
	}
	return true
}

// minPlausibleMillis is 2001-09-09 in epoch ms; any positive timestamp
// below it is almost certainly epoch seconds.
const minPlausibleMillis = int64(1_000_000_000_000)

func validateMillis(name string, v int64) error {
	if v > 0 && v < minPlausibleMillis {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"%s %d looks like epoch seconds; validity timestamps are epoch milliseconds", name, v)
	}
	return nil
}

// NewAgentID mints a fresh agent identifier.
func NewAgentID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Registry stores and looks up agent records.
type Registry struct {
	mu sync.Mutex
	db *sharc.Database
	// byID is loaded by one scan of the agents table in NewRegistry and
	// extended in place by RegisterAgent; it is not reloaded afterwards,
	// so rows written by other handles are not seen. Lookups never rescan
	// per request.
	byID map[string]*Agent
}

// NewRegistry attaches a registry to the database, creating the reserved
// table if missing.
func NewRegistry(db *sharc.Database) (*Registry, error) {
	if !db.HasTable(AgentsTable) {
		if db.Writable() {
			if err := db.CreateTable(AgentsTable, agentsSQL); err != nil {
				return nil, err
			}
		} else {
			return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
				"database has no %s table", AgentsTable)
		}
	}
	r := &Registry{db: db}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	agents := make(map[string]*Agent)

	rd, err := r.db.CreateReader(AgentsTable, nil)
	if err != nil {
		return err
	}
	defer rd.Close()

	for {
		ok, err := rd.Read()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		a, err := agentFromReader(rd)
		if err != nil {
			return err
		}
		agents[a.AgentID] = a
	}

	r.byID = agents
	return nil
}

func agentFromReader(rd *sharc.Reader) (*Agent, error) {
	var a Agent
	var err error
	if a.AgentID, err = rd.GetString(0); err != nil {
		return nil, err
	}
	class, err := rd.GetInt64(1)
	if err != nil {
		return nil, err
	}
	a.Class = AgentClass(class)
	if a.PublicKey, err = rd.GetBlobCopy(2); err != nil {
		return nil, err
	}
	if a.AuthorityCeiling, err = rd.GetInt64(3); err != nil {
		return nil, err
	}
	if a.WriteScope, err = rd.GetString(4); err != nil {
		return nil, err
	}
	if a.ReadScope, err = rd.GetString(5); err != nil {
		return nil, err
	}
	if a.ValidityStart, err = rd.GetInt64(6); err != nil {
		return nil, err
	}
	if a.ValidityEnd, err = rd.GetInt64(7); err != nil {
		return nil, err
	}
	if a.ParentAgent, err = rd.GetString(8); err != nil {
		return nil, err
	}
	cosign, err := rd.GetInt64(9)
	if err != nil {
		return nil, err
	}
	a.CoSignRequired = cosign != 0
	if a.Signature, err = rd.GetBlobCopy(10); err != nil {
		return nil, err
	}
	return &a, nil
}

// RegisterAgent signs and stores an agent record. The signer must hold
// the agent's own key; its public half is stored with the row.
func (r *Registry) RegisterAgent(a Agent, signer Signer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.AgentID == "" {
		return sharcerr.Wrap(sharcerr.ErrInvalidArgument, "empty agent id")
	}
	if _, exists := r.byID[a.AgentID]; exists {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"agent %q already registered", a.AgentID)
	}
	if err := validateMillis("ValidityStart", a.ValidityStart); err != nil {
		return err
	}
	if err := validateMillis("ValidityEnd", a.ValidityEnd); err != nil {
		return err
	}

	if a.PublicKey == nil {
		der, err := MarshalPublicKey(signer.Public())
		if err != nil {
			return err
		}
		a.PublicKey = der
	}
	if _, err := ParsePublicKey(a.PublicKey); err != nil {
		return err
	}

	sig, err := signer.Sign(a.registrationMessage())
	if err != nil {
		return err
	}
	a.Signature = sig

	rowid, _, err := r.db.LastRowid(AgentsTable)
	if err != nil {
		return err
	}
	cosign := int64(0)
	if a.CoSignRequired {
		cosign = 1
	}
	err = r.db.AppendRow(AgentsTable, rowid+1, []sharc.Value{
		sharc.Text(a.AgentID),
		sharc.Int64(int64(a.Class)),
		sharc.Blob(a.PublicKey),
		sharc.Int64(a.AuthorityCeiling),
		sharc.Text(a.WriteScope),
		sharc.Text(a.ReadScope),
		sharc.Int64(a.ValidityStart),
		sharc.Int64(a.ValidityEnd),
		sharc.Text(a.ParentAgent),
		sharc.Int64(cosign),
		sharc.Blob(a.Signature),
	})
	if err != nil {
		return err
	}

	cp := a
	r.byID[a.AgentID] = &cp
	logging.AgentRegistered(a.AgentID, int(a.Class))
	return nil
}

// GetAgent returns the agent record for id. Missing agents fail with
// ErrUnknownAgent.
func (r *Registry) GetAgent(id string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, sharcerr.Wrapf(sharcerr.ErrUnknownAgent, "agent %q", id)
	}
	return a, nil
}

// ListAgents returns every registered agent.
func (r *Registry) ListAgents() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Agent, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out
}

// PublicKeys returns the parsed public key of every agent, keyed by id,
// in the form VerifyIntegrity consumes.
func (r *Registry) PublicKeys() (map[string]*ecdsa.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make(map[string]*ecdsa.PublicKey, len(r.byID))
	for id, a := range r.byID {
		pub, err := a.publicKey()
		if err != nil {
			return nil, sharcerr.Wrapf(err, "agent %q", id)
		}
		keys[id] = pub
	}
	return keys, nil
}
