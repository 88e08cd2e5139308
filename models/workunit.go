package models

import (
	"fmt"
	"time"
)

// UnitKind names what a WorkUnit's key refers to.
type UnitKind string

const (
	UnitGenre      UnitKind = "genre"
	UnitArtist     UnitKind = "artist"
	UnitGenreIndex UnitKind = "genre-index"
)

// WorkUnit is the (genre or artist, page) pair processed idempotently.
type WorkUnit struct {
	Kind UnitKind `json:"kind"`
	Key  string   `json:"key"`
	Page int      `json:"page"`
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("%s:%s:%d", u.Kind, u.Key, u.Page)
}

// Stage is one independently resumable phase of a WorkUnit. Assets are
// downloaded after the other two stages and recorded separately so a failed
// download pass runs again.
type Stage string

const (
	StageURLsResolved     Stage = "urls-resolved"
	StageRecordsPersisted Stage = "records-persisted"
	StageAssetsDownloaded Stage = "assets-downloaded"
)

// Status is the state of one stage of one WorkUnit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
)

// StatusRecord is the durable form of a stage's status.
type StatusRecord struct {
	Unit      WorkUnit  `json:"unit"`
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Artifacts []string  `json:"artifacts,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
