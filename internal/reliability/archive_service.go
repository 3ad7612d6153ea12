package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/database"
)

const archivePrefix = "atmx-ledger-"

// Uploader is the object storage surface the archive service uses.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// ArchiveService snapshots the ledger database, packages it with checksummed
// metadata and ships the archive to object storage. The ledger is the hash
// chain; losing it means losing the audit trail, so archives run on a
// schedule and old ones rotate out only past the retention window.
type ArchiveService struct {
	ledger        *database.DB
	storage       Uploader
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// ArchiveMetadata describes the contents of one archive.
type ArchiveMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// ArchiveInfo summarizes one stored archive.
type ArchiveInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewArchiveService creates a ledger archive service.
func NewArchiveService(ledger *database.DB, storage Uploader, dataDir string, retentionDays int, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		ledger:        ledger,
		storage:       storage,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("service", "ledger_archive").Logger(),
	}
}

// CreateAndUpload snapshots the ledger, builds the tar.gz and uploads it.
func (s *ArchiveService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting ledger archive")

	stagingDir := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	// VACUUM INTO produces a consistent snapshot without blocking writers.
	snapshotPath := filepath.Join(stagingDir, "ledger.db")
	if err := s.ledger.Snapshot(snapshotPath); err != nil {
		return fmt.Errorf("failed to snapshot ledger: %w", err)
	}

	info, err := os.Stat(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to stat ledger snapshot: %w", err)
	}
	checksum, err := fileChecksum(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to checksum ledger snapshot: %w", err)
	}

	metadata := ArchiveMetadata{
		Timestamp: time.Now().UTC(),
		Database:  "ledger",
		Filename:  "ledger.db",
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	metadataPath := filepath.Join(stagingDir, "archive-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write archive metadata: %w", err)
	}

	archiveName := fmt.Sprintf("%s%s.tar.gz", archivePrefix, time.Now().UTC().Format("2006-01-02-150405"))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, []string{snapshotPath, metadataPath}); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.storage.Upload(ctx, archiveName, archiveFile); err != nil {
		return err
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("ledger_bytes", info.Size()).
		Dur("took", time.Since(start)).
		Msg("Ledger archive uploaded")

	return nil
}

// ListArchives returns stored archives, newest first.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.storage.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		ts, err := time.Parse("2006-01-02-150405", raw)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping archive with unparseable timestamp")
			continue
		}
		archives = append(archives, ArchiveInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// RotateOld deletes archives past the retention window, always keeping the
// three newest regardless of age.
func (s *ArchiveService) RotateOld(ctx context.Context) error {
	const minToKeep = 3

	archives, err := s.ListArchives(ctx)
	if err != nil {
		return err
	}
	if len(archives) <= minToKeep || s.retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, archive := range archives {
		if i < minToKeep || !archive.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, archive.Filename); err != nil {
			s.log.Error().Err(err).Str("archive", archive.Filename).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().
			Int("deleted", deleted).
			Int("remaining", len(archives)-deleted).
			Msg("Rotated old ledger archives")
	}
	return nil
}

// ArchiveJob runs archive-and-rotate on the scheduler.
type ArchiveJob struct {
	service *ArchiveService
}

// NewArchiveJob creates the scheduled archive job.
func NewArchiveJob(service *ArchiveService) *ArchiveJob {
	return &ArchiveJob{service: service}
}

// Run creates an archive and rotates old ones.
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.service.RotateOld(ctx)
}

// Name returns the job name for scheduling and logging.
func (j *ArchiveJob) Name() string {
	return "ledger_archive"
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, metadata ArchiveMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}

// createArchive writes the given files into a tar.gz at archivePath.
func createArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addToArchive(tw, path); err != nil {
			return err
		}
	}
	return nil
}

func addToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", path, err)
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", path, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write %s into archive: %w", path, err)
	}
	return nil
}
