package trust

import (
	"strings"
	"sync"
	"time"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/core/sharc"
	"github.com/sharcdb/sharc/internal/logging"
)

// Scope strings are comma-separated table entries. A bare table name
// grants every column; "table:col1|col2" restricts to those columns; the
// token "*" grants all tables. Parsing happens once per distinct scope
// string and is cached.

type tableScope struct {
	allColumns bool
	columns    map[string]struct{}
}

type scopeDescriptor struct {
	allTables bool
	tables    map[string]tableScope
}

func parseScope(scope string) *scopeDescriptor {
	d := &scopeDescriptor{tables: make(map[string]tableScope)}
	for _, entry := range strings.Split(scope, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			d.allTables = true
			continue
		}
		name, cols, hasCols := strings.Cut(entry, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if !hasCols {
			d.tables[name] = tableScope{allColumns: true}
			continue
		}
		ts := tableScope{columns: make(map[string]struct{})}
		for _, col := range strings.Split(cols, "|") {
			col = strings.ToLower(strings.TrimSpace(col))
			if col != "" {
				ts.columns[col] = struct{}{}
			}
		}
		d.tables[name] = ts
	}
	return d
}

// allows reports whether the scope covers the table and every referenced
// column.
func (d *scopeDescriptor) allows(table string, columns []string) (ok bool, deniedColumn string) {
	if d.allTables {
		return true, ""
	}
	ts, ok := d.tables[strings.ToLower(table)]
	if !ok {
		return false, ""
	}
	if ts.allColumns {
		return true, ""
	}
	for _, col := range columns {
		if _, ok := ts.columns[strings.ToLower(col)]; !ok {
			return false, col
		}
	}
	return true, ""
}

// Enforcer performs per-operation entitlement checks at the API gate.
// Caller-supplied agent structs are never trusted: every check re-reads
// the agent from the registry by id and verifies its registration
// signature before consulting scopes. All checks fail closed.
type Enforcer struct {
	registry *Registry

	mu    sync.Mutex
	cache map[string]*scopeDescriptor

	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewEnforcer builds an enforcer over the registry.
func NewEnforcer(registry *Registry) *Enforcer {
	return &Enforcer{
		registry: registry,
		cache:    make(map[string]*scopeDescriptor),
		now:      time.Now,
	}
}

func (e *Enforcer) descriptor(scope string) *scopeDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.cache[scope]; ok {
		return d
	}
	d := parseScope(scope)
	e.cache[scope] = d
	return d
}

// resolveAgent loads and authenticates the agent behind a claimed id.
func (e *Enforcer) resolveAgent(agentID string) (*Agent, error) {
	agent, err := e.registry.GetAgent(agentID)
	if err != nil {
		return nil, sharcerr.NewPermission(agentID, "access", "", "agent not registered")
	}
	if !agent.VerifyRegistration() {
		logging.SecurityEvent("agent_registration_tampered", agentID)
		return nil, sharcerr.NewPermission(agentID, "access", "", "registration signature invalid")
	}
	if !agent.ActiveAt(e.now()) {
		return nil, sharcerr.NewPermission(agentID, "access", "", "outside validity window")
	}
	return agent, nil
}

// AuthorizeRead checks a query touching the given tables. columns maps
// each table to every column the query references anywhere: projection,
// predicates, join conditions, ordering, grouping.
func (e *Enforcer) AuthorizeRead(agentID string, columns map[string][]string) error {
	agent, err := e.resolveAgent(agentID)
	if err != nil {
		return err
	}
	d := e.descriptor(agent.ReadScope)
	for table, cols := range columns {
		ok, denied := d.allows(table, cols)
		if !ok {
			resource := table
			if denied != "" {
				resource = table + "." + denied
			}
			logging.SecurityEvent("read_scope_denied", agentID, "resource", resource)
			return sharcerr.NewPermission(agentID, "read", resource, "not in read scope")
		}
	}
	return nil
}

// AuthorizeWrite checks a write into table touching the given columns,
// derived from the payload's column list.
func (e *Enforcer) AuthorizeWrite(agentID, table string, columns []string) error {
	agent, err := e.resolveAgent(agentID)
	if err != nil {
		return err
	}
	d := e.descriptor(agent.WriteScope)
	ok, denied := d.allows(table, columns)
	if !ok {
		resource := table
		if denied != "" {
			resource = table + "." + denied
		}
		logging.SecurityEvent("write_scope_denied", agentID, "resource", resource)
		return sharcerr.NewPermission(agentID, "write", resource, "not in write scope")
	}
	return nil
}

// Session is the entitlement-gated API surface for one agent: reads and
// ledger appends pass through the enforcer before touching the database.
type Session struct {
	db       *sharc.Database
	ledger   *Ledger
	enforcer *Enforcer
	agentID  string
	signer   Signer
}

// NewSession binds an agent (and its signer, for appends) to a database.
func NewSession(db *sharc.Database, ledger *Ledger, enforcer *Enforcer, signer Signer) *Session {
	return &Session{
		db:       db,
		ledger:   ledger,
		enforcer: enforcer,
		agentID:  signer.AgentID(),
		signer:   signer,
	}
}

// CreateReader opens an entitlement-checked reader. The checked column
// set is the projection united with every column the filter references,
// so predicate-only references are enforced too.
func (s *Session) CreateReader(table string, flt *sharc.Filter, columns ...string) (*sharc.Reader, error) {
	r, err := s.db.CreateReader(table, flt, columns...)
	if err != nil {
		return nil, err
	}

	referenced := append([]string(nil), columns...)
	if len(columns) == 0 {
		// No projection exposes every column; check them all.
		for i := 0; i < r.FieldCount(); i++ {
			referenced = append(referenced, r.FieldName(i))
		}
	}
	referenced = append(referenced, r.FilterColumns()...)
	if err := s.enforcer.AuthorizeRead(s.agentID, map[string][]string{
		r.Table(): referenced,
	}); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Append writes a payload to the ledger after a write-scope check.
func (s *Session) Append(payload []byte) (Entry, error) {
	if err := s.enforcer.AuthorizeWrite(s.agentID, LedgerTable, nil); err != nil {
		return Entry{}, err
	}
	return s.ledger.Append(payload, s.signer)
}
