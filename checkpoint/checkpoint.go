// Package checkpoint records which stages of which work units have completed.
//
// Every stage of a unit has a status record stored apart from the artifacts it
// produced. A stage is complete when its record says so and every artifact the
// record lists is still present, so deleting an artifact forces that stage to
// run again.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-music/models"
	"github.com/aluiziolira/go-scrape-music/storage"
)

// ErrAlreadyComplete is returned by Begin for a stage that is already complete.
var ErrAlreadyComplete = errors.New("checkpoint: stage already complete")

const statusDir = ".status"

// Artifact is a named payload written when a stage completes.
type Artifact struct {
	Name    string
	Payload any
}

// Store keeps status records and artifacts in a storage.FS.
type Store struct {
	fs     storage.FS
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Store over fs.
func New(fs storage.FS, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fs: fs, logger: logger, now: time.Now}
}

// ArtifactPath returns the location of a unit's artifact: one directory per
// artifact name and key, one file per page.
func ArtifactPath(name string, unit models.WorkUnit) string {
	return path.Join(name, KeySegment(unit.Key), strconv.Itoa(unit.Page)+".json")
}

func statusPath(unit models.WorkUnit, stage models.Stage) string {
	return path.Join(statusDir, string(unit.Kind), KeySegment(unit.Key), strconv.Itoa(unit.Page), string(stage)+".json")
}

// KeySegment turns a genre or artist name into a single path segment.
func KeySegment(key string) string {
	seg := url.PathEscape(key)
	if seg == "" || strings.Trim(seg, ".") == "" {
		seg = strings.ReplaceAll(seg, ".", "%2E")
		if seg == "" {
			seg = "%00"
		}
	}
	return seg
}

// Status returns the stage's status record, or a pending record when none exists.
func (s *Store) Status(unit models.WorkUnit, stage models.Stage) (models.StatusRecord, error) {
	pending := models.StatusRecord{Unit: unit, Stage: stage, Status: models.StatusPending}

	p := statusPath(unit, stage)
	ok, err := s.fs.Exists(p)
	if err != nil {
		return pending, fmt.Errorf("check status of %s %s: %w", unit, stage, err)
	}
	if !ok {
		return pending, nil
	}
	data, err := s.fs.Read(p)
	if err != nil {
		return pending, fmt.Errorf("read status of %s %s: %w", unit, stage, err)
	}
	var rec models.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return pending, fmt.Errorf("decode status of %s %s: %w", unit, stage, err)
	}
	return rec, nil
}

// IsComplete reports whether the stage finished and its artifacts are intact.
func (s *Store) IsComplete(unit models.WorkUnit, stage models.Stage) (bool, error) {
	rec, err := s.Status(unit, stage)
	if err != nil {
		return false, err
	}
	if rec.Status != models.StatusComplete {
		return false, nil
	}
	for _, artifact := range rec.Artifacts {
		ok, err := s.fs.Exists(artifact)
		if err != nil {
			return false, fmt.Errorf("check artifact %s: %w", artifact, err)
		}
		if !ok {
			s.logger.Warn("artifact missing, stage will run again",
				slog.String("unit", unit.String()),
				slog.String("stage", string(stage)),
				slog.String("artifact", artifact),
			)
			return false, nil
		}
	}
	return true, nil
}

// Begin marks the stage in progress.
func (s *Store) Begin(unit models.WorkUnit, stage models.Stage) error {
	done, err := s.IsComplete(unit, stage)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: %s %s", ErrAlreadyComplete, unit, stage)
	}
	return s.writeStatus(models.StatusRecord{
		Unit:   unit,
		Stage:  stage,
		Status: models.StatusInProgress,
	})
}

// Restart marks the stage in progress even when it completed before.
func (s *Store) Restart(unit models.WorkUnit, stage models.Stage) error {
	return s.writeStatus(models.StatusRecord{
		Unit:   unit,
		Stage:  stage,
		Status: models.StatusInProgress,
	})
}

// MarkComplete writes every artifact and then the complete status record.
// A crash part way leaves the stage incomplete.
func (s *Store) MarkComplete(unit models.WorkUnit, stage models.Stage, artifacts ...Artifact) error {
	paths := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		data, err := EncodeJSON(artifact.Payload)
		if err != nil {
			return fmt.Errorf("encode %s for %s: %w", artifact.Name, unit, err)
		}
		p := ArtifactPath(artifact.Name, unit)
		if err := s.fs.Write(p, data); err != nil {
			return fmt.Errorf("write %s for %s: %w", artifact.Name, unit, err)
		}
		paths = append(paths, p)
	}
	return s.writeStatus(models.StatusRecord{
		Unit:      unit,
		Stage:     stage,
		Status:    models.StatusComplete,
		Artifacts: paths,
	})
}

// ReadArtifact decodes a unit's artifact into v.
func (s *Store) ReadArtifact(unit models.WorkUnit, name string, v any) error {
	data, err := s.fs.Read(ArtifactPath(name, unit))
	if err != nil {
		return fmt.Errorf("read %s for %s: %w", name, unit, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s for %s: %w", name, unit, err)
	}
	return nil
}

// Pages lists the pages for which an artifact of key exists, in ascending order.
func (s *Store) Pages(name, key string) ([]int, error) {
	entries, err := s.fs.List(path.Join(name, KeySegment(key)))
	if err != nil {
		return nil, fmt.Errorf("list %s for %s: %w", name, key, err)
	}
	var pages []int
	for _, entry := range entries {
		page, err := strconv.Atoi(strings.TrimSuffix(entry, ".json"))
		if err != nil || !strings.HasSuffix(entry, ".json") {
			continue
		}
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages, nil
}

func (s *Store) writeStatus(rec models.StatusRecord) error {
	rec.UpdatedAt = s.now().UTC()
	data, err := EncodeJSON(rec)
	if err != nil {
		return fmt.Errorf("encode status of %s: %w", rec.Unit, err)
	}
	if err := s.fs.Write(statusPath(rec.Unit, rec.Stage), data); err != nil {
		return fmt.Errorf("write status of %s %s: %w", rec.Unit, rec.Stage, err)
	}
	return nil
}

// EncodeJSON renders v the way snapshots are stored: indented, with
// non-ASCII and HTML characters left unescaped.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
