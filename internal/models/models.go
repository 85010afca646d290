package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	MinPoints = 0
	MaxPoints = 5
)

type Party struct {
	bun.BaseModel `bun:"table:parties,alias:p"`

	ID        uuid.UUID `bun:"id,pk,type:text"            json:"id"`
	Title     string    `bun:"title,notnull,unique"        json:"title"`
	Slug      string    `bun:"slug,notnull"                json:"slug"`
	IsActive  bool      `bun:"is_active,notnull"           json:"is_active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull" json:"updated_at"`

	Compos []Compo `bun:"rel:has-many,join:id=party_id" json:"compos,omitempty"`
}

type Compo struct {
	bun.BaseModel `bun:"table:compos,alias:c"`

	ID                 uuid.UUID    `bun:"id,pk,type:text"                  json:"id"`
	PartyID            uuid.UUID    `bun:"party_id,notnull,type:text"        json:"party_id"`
	Title              string       `bun:"title,notnull"                     json:"title"`
	SubmissionDeadline time.Time    `bun:"submission_deadline,notnull"       json:"submission_deadline"`
	MetadataDeadline   time.Time    `bun:"metadata_deadline,notnull"         json:"metadata_deadline"`
	VotingStatus       VotingStatus `bun:"voting_status,notnull,default:'U'" json:"voting_status"`
	CurrentEntryPos    int          `bun:"current_entry_pos,notnull"         json:"current_entry_pos"`
	CreatedAt          time.Time    `bun:"created_at,nullzero,notnull"       json:"created_at"`
	UpdatedAt          time.Time    `bun:"updated_at,nullzero,notnull"       json:"updated_at"`

	Entries []Entry `bun:"rel:has-many,join:id=compo_id" json:"entries,omitempty"`
}

// OpenForSubmissions reports whether entries may still be uploaded at t.
func (c *Compo) OpenForSubmissions(t time.Time) bool {
	return !t.After(c.SubmissionDeadline)
}

// CanEditMetadata reports whether entry metadata may still be changed at t.
func (c *Compo) CanEditMetadata(t time.Time) bool {
	return !t.After(c.MetadataDeadline)
}

type Entry struct {
	bun.BaseModel `bun:"table:entries,alias:e"`

	ID        uuid.UUID `bun:"id,pk,type:text"            json:"id"`
	CompoID   uuid.UUID `bun:"compo_id,notnull,type:text"  json:"compo_id"`
	Title     string    `bun:"title,notnull"               json:"title"`
	Team      string    `bun:"team,notnull"                json:"team"`
	Platform  string    `bun:"platform,notnull"            json:"platform"`
	Order     int       `bun:"sort_order,notnull"          json:"order"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull" json:"updated_at"`
}

// Filename is the name the entry archive gets in the compo pack.
func (e *Entry) Filename() string {
	return fmt.Sprintf("%d_%s.zip", e.Order, Slugify(e.Title))
}

type VoteKey struct {
	bun.BaseModel `bun:"table:vote_keys,alias:vk"`

	ID        uuid.UUID `bun:"id,pk,type:text"            json:"id"`
	PartyID   uuid.UUID `bun:"party_id,notnull,type:text"  json:"party_id"`
	Key       string    `bun:"vote_key,notnull"            json:"-"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull" json:"created_at"`
}

type Vote struct {
	bun.BaseModel `bun:"table:votes,alias:v"`

	ID        uuid.UUID `bun:"id,pk,type:text"               json:"id"`
	EntryID   uuid.UUID `bun:"entry_id,notnull,type:text"     json:"entry_id"`
	VoteKeyID uuid.UUID `bun:"vote_key_id,notnull,type:text"  json:"-"`
	Points    int       `bun:"points,notnull"                 json:"points"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull"    json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull"    json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
