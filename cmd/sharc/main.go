// Command sharc inspects Sharc databases and drives the trust subsystem:
// schema and row dumps, ledger verification, delta exchange, and agent
// registration.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/core/sharc"
	"github.com/sharcdb/sharc/core/trust"
	"github.com/sharcdb/sharc/internal/logging"
)

type cli struct {
	Verbose bool `short:"v" help:"Enable debug logging."`

	Info   infoCmd   `cmd:"" help:"Show database header information."`
	Tables tablesCmd `cmd:"" help:"List tables in the schema."`
	Rows   rowsCmd   `cmd:"" help:"Dump rows of a table."`
	Create createCmd `cmd:"" help:"Create an empty database."`
	Keygen keygenCmd `cmd:"" help:"Generate an agent keypair."`
	Agent  agentCmd  `cmd:"" help:"Manage the agent registry."`
	Ledger ledgerCmd `cmd:"" help:"Operate on the hash-chained ledger."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("sharc"),
		kong.Description("Managed reader and trust tooling for Sharc databases."),
		kong.UsageOnError(),
	)
	if c.Verbose {
		logging.InitLogger(logging.LevelDebug, logging.FormatText)
	}
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sharc: %v\n", err)
		os.Exit(1)
	}
}

func openDB(path string, readWrite bool) (*sharc.Database, error) {
	return sharc.Open(path, sharc.Options{ReadWrite: readWrite, PageCacheSize: 256})
}

type infoCmd struct {
	Path string `arg:"" help:"Database file."`
}

func (c *infoCmd) Run() error {
	db, err := openDB(c.Path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	hdr := db.Header()
	fmt.Printf("page size:       %d\n", hdr.ActualPageSize())
	fmt.Printf("usable size:     %d\n", hdr.UsableSize())
	fmt.Printf("pages:           %d\n", hdr.DatabaseSize)
	fmt.Printf("schema cookie:   %d\n", hdr.SchemaCookie)
	fmt.Printf("schema format:   %d\n", hdr.SchemaFormat)
	fmt.Printf("text encoding:   %d\n", hdr.TextEncoding)
	fmt.Printf("change counter:  %d\n", hdr.FileChangeCounter)
	fmt.Printf("user version:    %d\n", hdr.UserVersion)
	fmt.Printf("application id:  %#x\n", hdr.AppID)
	return nil
}

type tablesCmd struct {
	Path string `arg:"" help:"Database file."`
}

func (c *tablesCmd) Run() error {
	db, err := openDB(c.Path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, name := range db.TableNames() {
		fmt.Println(name)
	}
	return nil
}

type rowsCmd struct {
	Path  string   `arg:"" help:"Database file."`
	Table string   `arg:"" help:"Table to dump."`
	Cols  []string `help:"Columns to project."`
	Limit int      `default:"100" help:"Maximum rows to print."`
}

func (c *rowsCmd) Run() error {
	db, err := openDB(c.Path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := db.CreateReader(c.Table, nil, c.Cols...)
	if err != nil {
		return err
	}
	defer r.Close()

	for printed := 0; printed < c.Limit; printed++ {
		ok, err := r.Read()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Printf("%d:", r.Rowid())
		for i := 0; i < r.FieldCount(); i++ {
			v, err := r.GetValue(i)
			if err != nil {
				return err
			}
			switch v.Type {
			case sharc.TypeNull:
				fmt.Printf("\t<null>")
			case sharc.TypeInt:
				fmt.Printf("\t%d", v.Int)
			case sharc.TypeReal:
				fmt.Printf("\t%g", v.Real)
			case sharc.TypeText:
				s, err := r.GetString(i)
				if err != nil {
					return err
				}
				fmt.Printf("\t%q", s)
			case sharc.TypeBlob:
				fmt.Printf("\t<%d bytes>", len(v.Bytes))
			}
		}
		fmt.Println()
	}
	return nil
}

type createCmd struct {
	Path string `arg:"" help:"Database file to create."`
}

func (c *createCmd) Run() error {
	db, err := sharc.Create(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := trust.NewLedger(db); err != nil {
		return err
	}
	if _, err := trust.NewRegistry(db); err != nil {
		return err
	}
	fmt.Printf("created %s with reserved trust tables\n", c.Path)
	return nil
}

type keygenCmd struct {
	Out string `arg:"" help:"Private key output file (PEM)."`
}

func (c *keygenCmd) Run() error {
	signer, err := trust.NewLocalSigner("")
	if err != nil {
		return err
	}
	der, err := x509.MarshalECPrivateKey(signer.Key())
	if err != nil {
		return err
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(c.Out, pem.EncodeToMemory(block), 0600); err != nil {
		return sharcerr.NewIO("write", c.Out, err)
	}
	fmt.Printf("wrote %s\n", c.Out)
	return nil
}

func loadSigner(agentID, keyPath string) (*trust.LocalSigner, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, sharcerr.NewIO("read", keyPath, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "not an EC private key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "bad EC private key")
	}
	return trust.NewLocalSignerFromKey(agentID, key), nil
}

type agentCmd struct {
	Register agentRegisterCmd `cmd:"" help:"Register an agent."`
	List     agentListCmd     `cmd:"" help:"List registered agents."`
}

type agentRegisterCmd struct {
	Path       string `arg:"" help:"Database file."`
	ID         string `help:"Agent id; minted when empty."`
	Key        string `required:"" help:"Agent private key (PEM)."`
	Class      int    `default:"2" help:"Agent class (0 human, 1 service, 2 AI)."`
	ReadScope  string `default:"*" help:"Readable tables."`
	WriteScope string `default:"_sharc_ledger" help:"Writable tables."`
	TTL        int64  `help:"Validity in days; 0 means no expiry."`
}

func (c *agentRegisterCmd) Run() error {
	db, err := openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	registry, err := trust.NewRegistry(db)
	if err != nil {
		return err
	}

	id := c.ID
	if id == "" {
		id = trust.NewAgentID("agent")
	}
	signer, err := loadSigner(id, c.Key)
	if err != nil {
		return err
	}

	now := time.Now()
	agent := trust.Agent{
		AgentID:       id,
		Class:         trust.AgentClass(c.Class),
		ReadScope:     c.ReadScope,
		WriteScope:    c.WriteScope,
		ValidityStart: now.UnixMilli(),
	}
	if c.TTL > 0 {
		agent.ValidityEnd = now.Add(time.Duration(c.TTL) * 24 * time.Hour).UnixMilli()
	}
	if err := registry.RegisterAgent(agent, signer); err != nil {
		return err
	}
	fmt.Printf("registered %s\n", id)
	return nil
}

type agentListCmd struct {
	Path string `arg:"" help:"Database file."`
}

func (c *agentListCmd) Run() error {
	db, err := openDB(c.Path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	registry, err := trust.NewRegistry(db)
	if err != nil {
		return err
	}
	for _, a := range registry.ListAgents() {
		state := "active"
		if !a.ActiveAt(time.Now()) {
			state = "inactive"
		}
		if !a.VerifyRegistration() {
			state = "TAMPERED"
		}
		fmt.Printf("%s\tclass=%d\t%s\tread=%q\twrite=%q\n",
			a.AgentID, a.Class, state, a.ReadScope, a.WriteScope)
	}
	return nil
}

type ledgerCmd struct {
	Verify ledgerVerifyCmd `cmd:"" help:"Verify the hash chain."`
	Append ledgerAppendCmd `cmd:"" help:"Append a payload to the ledger."`
	Export ledgerExportCmd `cmd:"" help:"Export ledger deltas to an archive."`
	Import ledgerImportCmd `cmd:"" help:"Import a delta archive."`
}

type ledgerVerifyCmd struct {
	Path string `arg:"" help:"Database file."`
}

func (c *ledgerVerifyCmd) Run() error {
	db, err := openDB(c.Path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ledger, err := trust.NewLedger(db)
	if err != nil {
		return err
	}
	registry, err := trust.NewRegistry(db)
	if err != nil {
		return err
	}
	keys, err := registry.PublicKeys()
	if err != nil {
		return err
	}

	ok, bad, err := ledger.VerifyIntegrity(keys)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("chain verification failed at sequence %d", bad)
	}
	fmt.Println("chain verified")
	return nil
}

type ledgerAppendCmd struct {
	Path    string `arg:"" help:"Database file."`
	ID      string `required:"" help:"Agent id."`
	Key     string `required:"" help:"Agent private key (PEM)."`
	Payload string `arg:"" help:"Payload to append."`
}

func (c *ledgerAppendCmd) Run() error {
	db, err := openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	ledger, err := trust.NewLedger(db)
	if err != nil {
		return err
	}
	registry, err := trust.NewRegistry(db)
	if err != nil {
		return err
	}
	signer, err := loadSigner(c.ID, c.Key)
	if err != nil {
		return err
	}
	enforcer := trust.NewEnforcer(registry)
	session := trust.NewSession(db, ledger, enforcer, signer)

	entry, err := session.Append([]byte(c.Payload))
	if err != nil {
		return err
	}
	fmt.Printf("appended sequence %d\n", entry.Sequence)
	return nil
}

type ledgerExportCmd struct {
	Path string `arg:"" help:"Database file."`
	Out  string `required:"" help:"Archive output file."`
	From int64  `default:"1" help:"First sequence to export."`
	Xz   bool   `help:"Compress the archive with xz."`
}

func (c *ledgerExportCmd) Run() error {
	db, err := openDB(c.Path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ledger, err := trust.NewLedger(db)
	if err != nil {
		return err
	}
	records, err := ledger.ExportDeltas(c.From)
	if err != nil {
		return err
	}

	f, err := os.Create(c.Out)
	if err != nil {
		return sharcerr.NewIO("create", c.Out, err)
	}
	defer f.Close()
	if err := trust.WriteArchive(f, records, c.Xz); err != nil {
		return err
	}
	fmt.Printf("exported %d entries to %s\n", len(records), c.Out)
	return nil
}

type ledgerImportCmd struct {
	Path    string `arg:"" help:"Database file."`
	Archive string `arg:"" help:"Delta archive to import."`
}

func (c *ledgerImportCmd) Run() error {
	db, err := openDB(c.Path, true)
	if err != nil {
		return err
	}
	defer db.Close()

	ledger, err := trust.NewLedger(db)
	if err != nil {
		return err
	}
	registry, err := trust.NewRegistry(db)
	if err != nil {
		return err
	}

	f, err := os.Open(c.Archive)
	if err != nil {
		return sharcerr.NewIO("open", c.Archive, err)
	}
	defer f.Close()
	records, err := trust.ReadArchive(f)
	if err != nil {
		return err
	}

	if err := ledger.ImportDeltas(records, registry); err != nil {
		return err
	}
	fmt.Printf("imported %d entries\n", len(records))
	return nil
}
