// Package codec converts dataset snapshots to and from the portable sync
// archive: a zip container holding one SQLite database and, optionally, the
// organisation profile as JSON.
package codec

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/ledger/internal/schema"
	"github.com/hyperengineering/ledger/internal/types"
)

const (
	// DatabaseEntry is the archive entry name of the relational database.
	DatabaseEntry = "ledger.sqlite"

	// ProfileEntry is the optional auxiliary JSON entry.
	ProfileEntry = "organization.json"

	// ContentType is the MIME type of an encoded archive.
	ContentType = "application/zip"
)

// databaseExtensions are matched case-insensitively when locating the
// database entry of an archive.
var databaseExtensions = []string{".sqlite", ".sqlite3", ".db"}

// supportedSchema is the range of archive schema versions this reader
// understands fully. Newer archives are still read, with a warning.
var supportedSchema = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// archiveMeta is the single row of the meta table.
type archiveMeta struct {
	ExportedAt    string
	SchemaVersion string
}

var metaTable = schema.Table[archiveMeta]{
	Name: "meta",
	Columns: []schema.Column{
		{Name: "id", Kind: schema.Integer},
		{Name: "exported_at", Kind: schema.Text},
		{Name: "schema_version", Kind: schema.Text},
	},
	Values: func(m archiveMeta) []any {
		return []any{int64(1), m.ExportedAt, m.SchemaVersion}
	},
	Read: func(r schema.Row) archiveMeta {
		return archiveMeta{
			ExportedAt:    r.Text("exported_at"),
			SchemaVersion: r.Text("schema_version"),
		}
	},
}

// Codec encodes and decodes sync archives.
// The zero value is usable and stages databases in os.TempDir.
type Codec struct {
	// TempDir is where database files are staged; empty means os.TempDir.
	TempDir string

	// Now supplies the fallback export time; nil means time.Now.
	Now func() time.Time
}

// New returns a Codec staging files under tempDir.
func New(tempDir string) *Codec {
	return &Codec{TempDir: tempDir}
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Encode serializes snap into archive bytes. The change log is not written.
func (c *Codec) Encode(ctx context.Context, snap types.Snapshot) (_ []byte, err error) {
	dir, err := os.MkdirTemp(c.TempDir, "ledger-encode-*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(dir)

	exportedAt := snap.ExportedAt
	if exportedAt.IsZero() {
		exportedAt = c.now()
	}

	dbPath := filepath.Join(dir, DatabaseEntry)
	if err := writeDatabase(ctx, dbPath, snap, exportedAt); err != nil {
		return nil, err
	}

	dbBytes, err := os.ReadFile(dbPath)
	if err != nil {
		return nil, fmt.Errorf("read staged database: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := addEntry(zw, DatabaseEntry, dbBytes, exportedAt); err != nil {
		return nil, err
	}
	if len(snap.Profile) > 0 {
		if err := addEntry(zw, ProfileEntry, snap.Profile, exportedAt); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	return buf.Bytes(), nil
}

func addEntry(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}

// writeDatabase creates the archive database at path in one transaction.
func writeDatabase(ctx context.Context, path string, snap types.Snapshot, exportedAt time.Time) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open staging database: %w", err)
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()
	db.SetMaxOpenConns(1)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := schema.CreateTables(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, metaTable.CreateSQL()); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}
	if err := schema.WriteCollections(ctx, tx, snap); err != nil {
		return err
	}
	meta := archiveMeta{
		ExportedAt:    exportedAt.UTC().Format(time.RFC3339Nano),
		SchemaVersion: schema.Version,
	}
	if err := schema.Upsert(ctx, tx, metaTable, []archiveMeta{meta}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit staging database: %w", err)
	}
	return nil
}

// Decode parses archive bytes into a Snapshot. Missing tables, columns and
// metadata fall back to defaults; an archive without a database entry fails
// with an *ArchiveError and no snapshot.
func (c *Codec) Decode(ctx context.Context, data []byte) (types.Snapshot, error) {
	if !isZip(data) {
		return types.Snapshot{}, &ArchiveError{Reason: "not a zip container"}
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return types.Snapshot{}, &ArchiveError{Reason: "unreadable container", Err: err}
	}

	var dbFile, profileFile *zip.File
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		switch {
		case dbFile == nil && isDatabaseEntry(f.Name):
			dbFile = f
		case profileFile == nil && path.Base(f.Name) == ProfileEntry:
			profileFile = f
		}
	}
	if dbFile == nil {
		return types.Snapshot{}, &ArchiveError{Reason: "no database entry", Entries: names}
	}

	dbBytes, err := readEntry(dbFile)
	if err != nil {
		return types.Snapshot{}, &ArchiveError{Reason: "unreadable database entry", Err: err}
	}

	snap, err := c.readDatabase(ctx, dbBytes)
	if err != nil {
		return types.Snapshot{}, err
	}

	if profileFile != nil {
		profile, err := readEntry(profileFile)
		switch {
		case err != nil:
			slog.Warn("archive profile unreadable, ignoring",
				"component", "codec",
				"entry", profileFile.Name,
				"error", err,
			)
		case !json.Valid(profile):
			slog.Warn("archive profile is not valid JSON, ignoring",
				"component", "codec",
				"entry", profileFile.Name,
			)
		default:
			snap.Profile = json.RawMessage(profile)
		}
	}

	return snap, nil
}

func (c *Codec) readDatabase(ctx context.Context, dbBytes []byte) (_ types.Snapshot, err error) {
	dir, err := os.MkdirTemp(c.TempDir, "ledger-decode-*")
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(dir)

	dbPath := filepath.Join(dir, DatabaseEntry)
	if err := os.WriteFile(dbPath, dbBytes, 0o600); err != nil {
		return types.Snapshot{}, fmt.Errorf("stage database: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return types.Snapshot{}, &ArchiveError{Reason: "unreadable database", Err: err}
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()
	db.SetMaxOpenConns(1)

	snap, err := schema.ReadCollections(ctx, db)
	if err != nil {
		return types.Snapshot{}, &ArchiveError{Reason: "unreadable database", Err: err}
	}

	metas, err := schema.Load(ctx, db, metaTable)
	if err != nil {
		return types.Snapshot{}, &ArchiveError{Reason: "unreadable database", Err: err}
	}

	snap.ExportedAt = c.now()
	if len(metas) > 0 {
		meta := metas[0]
		if t, perr := time.Parse(time.RFC3339Nano, meta.ExportedAt); perr == nil {
			snap.ExportedAt = t.UTC()
		}
		checkSchemaVersion(meta.SchemaVersion)
	}

	return snap, nil
}

// checkSchemaVersion logs archives written by a newer, unknown schema.
func checkSchemaVersion(raw string) {
	if raw == "" {
		return
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		slog.Warn("archive schema version unparsable",
			"component", "codec",
			"schema_version", raw,
			"error", err,
		)
		return
	}
	if !supportedSchema.Check(v) {
		slog.Warn("archive written by a newer schema, unknown columns are ignored",
			"component", "codec",
			"schema_version", v.String(),
			"supported", schema.Version,
		)
	}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isDatabaseEntry(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, want := range databaseExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// isZip sniffs data for a zip container, accepting zip-derived formats.
func isZip(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is(ContentType) {
			return true
		}
	}
	return false
}
