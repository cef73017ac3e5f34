// Package importer reads ledger records from CSV files and posts them to
// a ledger store as pending transactions.
package importer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cleared-dev/basis/internal/ledger"
	"github.com/cleared-dev/basis/internal/logging"
	"github.com/cleared-dev/basis/internal/model"
)

// Parser converts a CSV file into Records.
type Parser interface {
	Parse(r io.Reader) ([]Record, error)
	Format() string
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// FileInfo describes a CSV file in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&CSVParser{})
	return r
}

const (
	importDir    = "import"
	processedDir = "import/processed"
)

// Scan returns CSV files in <root>/import/.
func Scan(root string) ([]FileInfo, error) {
	dir := filepath.Join(root, importDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from import/ to import/processed/.
func MarkProcessed(root, fileName string) error {
	src := filepath.Join(root, importDir, fileName)
	dstDir := filepath.Join(root, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}
	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}

// ParseFile parses the file at path with p.
func ParseFile(p Parser, path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	recs, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return recs, nil
}

// Importer posts parsed records to a ledger store.
type Importer struct {
	store  *ledger.Store
	logger *slog.Logger
}

// New creates an Importer over store.
func New(store *ledger.Store, logger *slog.Logger) *Importer {
	return &Importer{store: store, logger: logging.OrDiscard(logger)}
}

// Apply adds one pending transaction per record, creating wallets and
// accounts on first use. source is recorded as the transaction importer.
// The first failing record stops the import; earlier records stay posted.
func (im *Importer) Apply(userID int64, source string, recs []Record) ([]model.Transaction, error) {
	if _, err := im.store.User(userID); err != nil {
		return nil, err
	}
	var out []model.Transaction
	for _, rec := range recs {
		tx, err := im.transaction(userID, source, rec)
		if err != nil {
			return out, fmt.Errorf("row %d: %w", rec.Row, err)
		}
		added, err := im.store.AddTransaction(tx)
		if err != nil {
			return out, fmt.Errorf("row %d: %w", rec.Row, err)
		}
		out = append(out, added)
	}
	im.logger.Info("records imported", "user_id", userID, "source", source, "transactions", len(out))
	return out, nil
}

func (im *Importer) transaction(userID int64, source string, rec Record) (model.Transaction, error) {
	tx := model.Transaction{
		UserID:      userID,
		Type:        rec.Type,
		Date:        rec.Date,
		Label:       rec.Label,
		NetValue:    rec.NetValue,
		FeeValue:    rec.FeeValue,
		Ignored:     rec.Ignored,
		TxHash:      rec.TxHash,
		Importer:    source,
		SrcAddress:  rec.SrcAddress,
		DestAddress: rec.DestAddress,
		Description: rec.Description,
	}
	var err error
	if tx.From, err = im.leg(userID, rec.FromWallet, rec.From); err != nil {
		return tx, err
	}
	if tx.To, err = im.leg(userID, rec.ToWallet, rec.To); err != nil {
		return tx, err
	}
	// Fees are paid from the sending wallet when there is one.
	feeWallet := rec.FromWallet
	if !rec.From.Present() {
		feeWallet = rec.ToWallet
	}
	if tx.Fee, err = im.leg(userID, feeWallet, rec.Fee); err != nil {
		return tx, err
	}
	return tx, nil
}

func (im *Importer) leg(userID int64, wallet string, a Amount) (model.Leg, error) {
	if !a.Present() {
		return model.Leg{}, nil
	}
	if wallet == "" {
		wallet = "default"
	}
	w, err := im.store.EnsureWallet(userID, wallet)
	if err != nil {
		return model.Leg{}, err
	}
	acct, err := im.store.EnsureAccount(userID, w.ID, a.Currency)
	if err != nil {
		return model.Leg{}, err
	}
	return model.Leg{Amount: a.Value, Currency: a.Currency, AccountID: acct.ID}, nil
}
