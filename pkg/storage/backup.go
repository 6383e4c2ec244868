package storage

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/reroll-core/pkg/log"
)

// BackupKind names one of the six backup triggers (spec §4.1).
type BackupKind string

const (
	KindManual       BackupKind = "MANUAL"
	KindAutomatic    BackupKind = "AUTOMATIC"
	KindSchemaChange BackupKind = "SCHEMA_CHANGE"
	KindMigration    BackupKind = "MIGRATION"
	KindScheduled    BackupKind = "SCHEDULED"
	KindEmergency    BackupKind = "EMERGENCY"
)

const backupSidecarExt = ".json"
const backupFileExt = ".dbc"
const gzipThresholdBytes = 10 * 1024 * 1024

var backupTables = []string{
	"workers", "subsystems", "heartbeats", "runs", "godpacks",
	"test_results", "gp_statistics", "expiration_warnings", "system_events",
}

// BackupMeta is the JSON sidecar recorded alongside each backup file.
type BackupMeta struct {
	Kind           BackupKind       `json:"kind"`
	Path           string           `json:"path"`
	SizeBytes      int64            `json:"size_bytes"`
	DurationMS     int64            `json:"duration_ms"`
	IntegrityOK    bool             `json:"integrity_ok"`
	TableCounts    map[string]int64 `json:"table_counts"`
	Gzipped        bool             `json:"gzipped"`
	CreatedAt      time.Time        `json:"created_at"`
}

// BackupManager writes, retains, and restores datastore backups per
// spec §4.1.
type BackupManager struct {
	pool           *Pool
	dir            string
	retentionDays  int
	maxBackupCount int
}

// NewBackupManager builds a manager rooted at <stateDir>/backups.
// retentionDays and maxBackupCount default to 30 and 50 when <= 0.
func NewBackupManager(pool *Pool, stateDir string, retentionDays, maxBackupCount int) *BackupManager {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if maxBackupCount <= 0 {
		maxBackupCount = 50
	}
	return &BackupManager{
		pool:           pool,
		dir:            filepath.Join(stateDir, "backups"),
		retentionDays:  retentionDays,
		maxBackupCount: maxBackupCount,
	}
}

// Create writes a byte-identical copy of the live datastore at a
// transactional checkpoint (via SQLite's VACUUM INTO) under
// backups/<kind>/<timestamp>.dbc, compresses it if larger than 10MiB, and
// writes its JSON sidecar. Then it sweeps the kind's directory for
// retention.
func (b *BackupManager) Create(ctx context.Context, kind BackupKind) (*BackupMeta, error) {
	start := time.Now()

	kindDir := filepath.Join(b.dir, string(kind))
	if err := os.MkdirAll(kindDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %v", ErrBackupFailed, err)
	}

	ts := start.UTC().Format("20060102T150405.000000000Z")
	rawPath := filepath.Join(kindDir, ts+backupFileExt)

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire: %v", ErrBackupFailed, err)
	}
	_, err = conn.Raw().ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", sqliteQuote(rawPath)))
	conn.Release()
	if err != nil {
		return nil, fmt.Errorf("%w: vacuum into: %v", ErrBackupFailed, err)
	}

	counts, err := b.tableCounts(ctx, rawPath)
	if err != nil {
		os.Remove(rawPath)
		return nil, fmt.Errorf("%w: table counts: %v", ErrBackupFailed, err)
	}

	integrityOK, err := checkIntegrity(rawPath)
	if err != nil {
		os.Remove(rawPath)
		return nil, fmt.Errorf("%w: integrity check: %v", ErrBackupFailed, err)
	}

	finalPath := rawPath
	gzipped := false
	if fi, err := os.Stat(rawPath); err == nil && fi.Size() > gzipThresholdBytes {
		finalPath, err = gzipFile(rawPath)
		if err != nil {
			return nil, fmt.Errorf("%w: compress: %v", ErrBackupFailed, err)
		}
		gzipped = true
	}

	fi, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %v", ErrBackupFailed, err)
	}

	meta := &BackupMeta{
		Kind:        kind,
		Path:        finalPath,
		SizeBytes:   fi.Size(),
		DurationMS:  time.Since(start).Milliseconds(),
		IntegrityOK: integrityOK,
		TableCounts: counts,
		Gzipped:     gzipped,
		CreatedAt:   start.UTC(),
	}

	sidecarPath := strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + backupSidecarExt
	if gzipped {
		sidecarPath = finalPath + backupSidecarExt
	}
	if err := writeSidecar(sidecarPath, meta); err != nil {
		return nil, fmt.Errorf("%w: sidecar: %v", ErrBackupFailed, err)
	}

	if err := b.sweep(kind); err != nil {
		log.Logger.Warn().Err(err).Str("kind", string(kind)).Msg("backup retention sweep failed")
	}

	return meta, nil
}

// Restore verifies the candidate backup's integrity (decompressing to a
// temp location first if needed), copies the live datastore file to
// backups/EMERGENCY/<timestamp>.dbc as the pre-restore backup (that copy
// has no JSON sidecar), then overwrites it. The pool must be closed by
// the caller before Restore and reopened afterward.
func (b *BackupManager) Restore(ctx context.Context, backupPath string) error {
	candidate := backupPath
	if strings.HasSuffix(backupPath, ".gz") {
		tmp, err := ungzipToTemp(backupPath)
		if err != nil {
			return fmt.Errorf("%w: decompress: %v", ErrIntegrityCheck, err)
		}
		defer os.Remove(tmp)
		candidate = tmp
	}

	ok, err := checkIntegrity(candidate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrityCheck, err)
	}
	if !ok {
		return ErrIntegrityCheck
	}

	emergencyDir := filepath.Join(b.dir, string(KindEmergency))
	if err := os.MkdirAll(emergencyDir, 0o755); err != nil {
		return fmt.Errorf("pre-restore backup: %w", err)
	}
	emergencyPath := filepath.Join(emergencyDir, time.Now().UTC().Format("20060102T150405.000000000Z")+backupFileExt)
	if err := copyFile(b.pool.Path(), emergencyPath); err != nil {
		return fmt.Errorf("pre-restore backup: %w", err)
	}

	livePath := b.pool.Path()
	if err := copyFile(candidate, livePath); err != nil {
		return fmt.Errorf("overwrite live datastore: %w", err)
	}
	return nil
}

// sweep removes backups older than the retention horizon for kind (2x for
// MANUAL) and enforces the always-on MaxBackupCount ceiling on non-MANUAL
// kinds, evicting oldest first.
func (b *BackupManager) sweep(kind BackupKind) error {
	kindDir := filepath.Join(b.dir, string(kind))
	entries, err := os.ReadDir(kindDir)
	if err != nil {
		return err
	}

	horizon := time.Duration(b.retentionDays) * 24 * time.Hour
	if kind == KindManual {
		horizon *= 2
	}
	cutoff := time.Now().Add(-horizon)

	type file struct {
		path    string
		modTime time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupFileExt) && !strings.HasSuffix(e.Name(), backupFileExt+".gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(kindDir, e.Name()), info.ModTime()})
	}

	var kept []file
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			b.removeBackup(f.path)
			continue
		}
		kept = append(kept, f)
	}

	if kind != KindManual && len(kept) > b.maxBackupCount {
		sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.Before(kept[j].modTime) })
		excess := len(kept) - b.maxBackupCount
		for _, f := range kept[:excess] {
			b.removeBackup(f.path)
		}
	}

	return nil
}

func (b *BackupManager) removeBackup(path string) {
	os.Remove(path)
	sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + backupSidecarExt
	os.Remove(sidecar)
	os.Remove(path + backupSidecarExt)
}

func (b *BackupManager) tableCounts(ctx context.Context, path string) (map[string]int64, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	counts := make(map[string]int64, len(backupTables))
	for _, table := range backupTables {
		var n int64
		row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
		if err := row.Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func checkIntegrity(path string) (bool, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return false, err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return false, err
	}
	return result == "ok", nil
}

func gzipFile(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	outPath := path + ".gz"
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}

	os.Remove(path)
	return outPath, nil
}

func ungzipToTemp(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return "", err
	}
	defer gr.Close()

	out, err := os.CreateTemp("", "reroll-restore-*.dbc")
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, gr); err != nil {
		return "", err
	}
	return out.Name(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func writeSidecar(path string, meta *BackupMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func sqliteQuote(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
