package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecordReference identifies a source or golden record.
type RecordReference struct {
	Type string `json:"type" db:"type" validate:"required"`
	ID   int64  `json:"id" db:"id" validate:"required,gt=0"`
}

// NewRef creates a RecordReference.
func NewRef(recordType string, id int64) RecordReference {
	return RecordReference{Type: recordType, ID: id}
}

// ParseRef parses the "Type/ID" form produced by String.
func ParseRef(s string) (RecordReference, error) {
	recordType, rawID, ok := strings.Cut(s, "/")
	if !ok || recordType == "" {
		return RecordReference{}, fmt.Errorf("invalid record reference %q: expected Type/ID", s)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return RecordReference{}, fmt.Errorf("invalid record reference %q: id must be a positive integer", s)
	}
	return RecordReference{Type: recordType, ID: id}, nil
}

func (r RecordReference) String() string {
	return r.Type + "/" + strconv.FormatInt(r.ID, 10)
}

func (r RecordReference) IsZero() bool {
	return r.Type == "" && r.ID == 0
}

// Less orders references by ID, then by Type.
func (r RecordReference) Less(other RecordReference) bool {
	if r.ID != other.ID {
		return r.ID < other.ID
	}
	return r.Type < other.Type
}

// Record is a free-form document addressed by a RecordReference.
type Record struct {
	Ref       RecordReference `json:"ref"`
	Data      map[string]any  `json:"data"`
	Golden    bool            `json:"golden"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertRecordRequest creates or replaces a source record.
type UpsertRecordRequest struct {
	Data map[string]any `json:"data" validate:"required"`
}

// RecordChange is a record lifecycle notification consumed from kafka.
type RecordChange struct {
	Op   RecordChangeOp `json:"op" validate:"required,oneof=upsert delete"`
	Type string         `json:"type" validate:"required"`
	ID   int64          `json:"id" validate:"required,gt=0"`
	Data map[string]any `json:"data,omitempty"`
}

type RecordChangeOp string

const (
	RecordChangeUpsert RecordChangeOp = "upsert"
	RecordChangeDelete RecordChangeOp = "delete"
)

func (c RecordChange) Ref() RecordReference {
	return NewRef(c.Type, c.ID)
}

// CandidateQuery selects golden records that may match a source.
type CandidateQuery struct {
	Source       RecordReference
	GoldenType   string
	BlockingKeys []string
	Limit        int
}
