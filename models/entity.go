package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EntityKind names one of the editable collections of a project.
type EntityKind string

const (
	KindCharacter  EntityKind = "character"
	KindScene      EntityKind = "scene"
	KindProp       EntityKind = "prop"
	KindStoryboard EntityKind = "storyboard"
)

// AssetKinds are the structurally similar library collections.
var AssetKinds = []EntityKind{KindCharacter, KindScene, KindProp}

// AllKinds lists every collection in flush order.
var AllKinds = []EntityKind{KindCharacter, KindScene, KindProp, KindStoryboard}

func (k EntityKind) Valid() bool {
	switch k {
	case KindCharacter, KindScene, KindProp, KindStoryboard:
		return true
	}
	return false
}

// 媒体状态：idle|draft -> generating -> generated|failed
const (
	MediaStatusIdle       = "idle"
	MediaStatusDraft      = "draft"
	MediaStatusGenerating = "generating"
	MediaStatusGenerated  = "generated"
	MediaStatusFailed     = "failed"
)

// 角色注册状态：idle -> creating -> created|failed
const (
	CreationStatusIdle     = "idle"
	CreationStatusCreating = "creating"
	CreationStatusCreated  = "created"
	CreationStatusFailed   = "failed"
)

// PlaceholderThreshold separates backend ids from session placeholders. Placeholders
// are millisecond timestamps, far above any auto-increment id.
const PlaceholderThreshold int64 = 1_000_000_000_000

// IsDurableID reports whether id was assigned by the backend.
func IsDurableID(id int64) bool {
	return id > 0 && id < PlaceholderThreshold
}

// IsPlaceholderID reports whether id is a not-yet-saved session id.
func IsPlaceholderID(id int64) bool {
	return !IsDurableID(id)
}

// MediaSlot addresses one url/status/error triple of an entity so that status merging
// and server-side guards can treat images, videos and identity registration alike.
type MediaSlot struct {
	Name    string
	// Fields are the Go field names backing URL, Status and Error.
	Fields  []string
	URL     *string
	Status  *string
	Error   *string
	Running string
	Done    string
	Failed  string
}

func (s MediaSlot) InProgress() bool {
	return *s.Status == s.Running
}

func mediaSlot(name, field string, url, status, errMsg *string) MediaSlot {
	return MediaSlot{
		Name:    name,
		Fields:  []string{field + "URL", field + "Status", field + "Error"},
		URL:     url,
		Status:  status,
		Error:   errMsg,
		Running: MediaStatusGenerating,
		Done:    MediaStatusGenerated,
		Failed:  MediaStatusFailed,
	}
}

// IDList is a JSON column holding an ordered list of entity ids.
type IDList []int64

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *IDList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal id list value:", value))
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]int64)(l))
}

func (l IDList) Contains(id int64) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

func (l IDList) Clone() IDList {
	if l == nil {
		return nil
	}
	out := make(IDList, len(l))
	copy(out, l)
	return out
}

// Asset holds the columns shared by characters, scenes and props.
type Asset struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID   int64     `gorm:"index;not null" json:"projectId"`
	EpisodeID   *int64    `gorm:"index" json:"episodeId,omitempty"`
	Name        string    `gorm:"size:200" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	ImageURL    string    `gorm:"type:text" json:"imageUrl"`
	ImageStatus string    `gorm:"size:20" json:"imageStatus"`
	ImageError  string    `gorm:"type:text" json:"imageError"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (a *Asset) idRef() *int64 { return &a.ID }

func (a *Asset) setOwner(projectID int64, episodeID *int64, order int) {
	a.ProjectID = projectID
	if episodeID != nil {
		v := *episodeID
		a.EpisodeID = &v
	}
	a.SortOrder = order
}

// AssetPart exposes the shared columns of any asset kind.
func (a *Asset) AssetPart() *Asset { return a }

func (a *Asset) MediaSlots() []MediaSlot {
	return []MediaSlot{mediaSlot("image", "Image", &a.ImageURL, &a.ImageStatus, &a.ImageError)}
}

func (a *Asset) normalize() {
	if a.ImageStatus == "" {
		a.ImageStatus = MediaStatusIdle
	}
}

func (a Asset) clone() Asset {
	if a.EpisodeID != nil {
		v := *a.EpisodeID
		a.EpisodeID = &v
	}
	return a
}

// AssetBackup keeps the fields a character had before it was linked to a library entry.
type AssetBackup struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	ImageStatus string `json:"imageStatus"`
}

func (b AssetBackup) Value() (driver.Value, error) {
	v, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(v), nil
}

func (b *AssetBackup) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	}
	return errors.New(fmt.Sprint("Failed to unmarshal asset backup value:", value))
}

type Character struct {
	Asset
	CreationStatus string       `gorm:"size:20" json:"creationStatus"`
	CreationError  string       `gorm:"type:text" json:"creationError"`
	ExternalID     string       `gorm:"size:128" json:"externalId"`
	LibraryID      *int64       `json:"libraryId,omitempty"`
	LibraryBackup  *AssetBackup `gorm:"type:json" json:"libraryBackup,omitempty"`
}

func (Character) TableName() string { return "character" }

// MediaSlots includes the identity registration lifecycle, whose "url" is the
// provider-assigned external id.
func (c *Character) MediaSlots() []MediaSlot {
	return append(c.Asset.MediaSlots(), MediaSlot{
		Name:    "identity",
		Fields:  []string{"ExternalID", "CreationStatus", "CreationError"},
		URL:     &c.ExternalID,
		Status:  &c.CreationStatus,
		Error:   &c.CreationError,
		Running: CreationStatusCreating,
		Done:    CreationStatusCreated,
		Failed:  CreationStatusFailed,
	})
}

func (c *Character) Normalize() {
	c.Asset.normalize()
	if c.CreationStatus == "" {
		c.CreationStatus = CreationStatusIdle
	}
}

func (c Character) Clone() Character {
	c.Asset = c.Asset.clone()
	if c.LibraryID != nil {
		v := *c.LibraryID
		c.LibraryID = &v
	}
	if c.LibraryBackup != nil {
		b := *c.LibraryBackup
		c.LibraryBackup = &b
	}
	return c
}

type Scene struct {
	Asset
}

func (Scene) TableName() string { return "scene" }

func (s *Scene) Normalize() { s.Asset.normalize() }

func (s Scene) Clone() Scene {
	s.Asset = s.Asset.clone()
	return s
}

type Prop struct {
	Asset
}

func (Prop) TableName() string { return "prop" }

func (p *Prop) Normalize() { p.Asset.normalize() }

func (p Prop) Clone() Prop {
	p.Asset = p.Asset.clone()
	return p
}

// Storyboard is one frame of the timeline.
type Storyboard struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID         int64     `gorm:"index;not null" json:"projectId"`
	EpisodeID         *int64    `gorm:"index" json:"episodeId,omitempty"`
	Text              string    `gorm:"type:text" json:"text"`
	SceneID           int64     `json:"sceneId"`
	CharacterIDs      IDList    `gorm:"type:json" json:"characterIds"`
	PropIDs           IDList    `gorm:"type:json" json:"propIds"`
	Duration          int       `json:"duration"`
	Prompt            string    `gorm:"type:text" json:"prompt"`
	ImageURL          string    `gorm:"type:text" json:"imageUrl"`
	ImageStatus       string    `gorm:"size:20" json:"imageStatus"`
	ImageError        string    `gorm:"type:text" json:"imageError"`
	VideoURL          string    `gorm:"type:text" json:"videoUrl"`
	VideoStatus       string    `gorm:"size:20" json:"status"`
	VideoError        string    `gorm:"type:text" json:"videoError"`
	HighResVideoURL   string    `gorm:"type:text" json:"highResVideoUrl"`
	HighResStatus     string    `gorm:"size:20" json:"highResStatus"`
	HighResError      string    `gorm:"type:text" json:"highResError"`
	ReferenceImageURL string    `gorm:"type:text" json:"referenceImageUrl"`
	SortOrder         int       `json:"sortOrder"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (Storyboard) TableName() string { return "storyboard" }

func (s *Storyboard) MediaSlots() []MediaSlot {
	return []MediaSlot{
		mediaSlot("image", "Image", &s.ImageURL, &s.ImageStatus, &s.ImageError),
		mediaSlot("video", "Video", &s.VideoURL, &s.VideoStatus, &s.VideoError),
		{
			Name:    "highRes",
			Fields:  []string{"HighResVideoURL", "HighResStatus", "HighResError"},
			URL:     &s.HighResVideoURL,
			Status:  &s.HighResStatus,
			Error:   &s.HighResError,
			Running: MediaStatusGenerating,
			Done:    MediaStatusGenerated,
			Failed:  MediaStatusFailed,
		},
	}
}

func (s *Storyboard) idRef() *int64 { return &s.ID }

func (s *Storyboard) setOwner(projectID int64, episodeID *int64, order int) {
	s.ProjectID = projectID
	if episodeID != nil {
		v := *episodeID
		s.EpisodeID = &v
	}
	s.SortOrder = order
}

func (s *Storyboard) Normalize() {
	for _, slot := range s.MediaSlots() {
		if *slot.Status == "" {
			*slot.Status = MediaStatusIdle
		}
	}
	if s.CharacterIDs == nil {
		s.CharacterIDs = IDList{}
	}
	if s.PropIDs == nil {
		s.PropIDs = IDList{}
	}
}

func (s Storyboard) Clone() Storyboard {
	if s.EpisodeID != nil {
		v := *s.EpisodeID
		s.EpisodeID = &v
	}
	s.CharacterIDs = s.CharacterIDs.Clone()
	s.PropIDs = s.PropIDs.Clone()
	return s
}

// StoryboardMediaPatch is the media-only update of a single frame.
type StoryboardMediaPatch struct {
	Status          *string `json:"status,omitempty"`
	VideoURL        *string `json:"videoUrl,omitempty"`
	HighResStatus   *string `json:"highResStatus,omitempty"`
	HighResVideoURL *string `json:"highResVideoUrl,omitempty"`
	ImageURL        *string `json:"imageUrl,omitempty"`
	ImageStatus     *string `json:"imageStatus,omitempty"`
}

func (p StoryboardMediaPatch) Empty() bool {
	return p.Status == nil && p.VideoURL == nil && p.HighResStatus == nil &&
		p.HighResVideoURL == nil && p.ImageURL == nil && p.ImageStatus == nil
}

// Apply copies every set field of the patch onto s.
func (p StoryboardMediaPatch) Apply(s *Storyboard) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&s.VideoStatus, p.Status)
	set(&s.VideoURL, p.VideoURL)
	set(&s.HighResStatus, p.HighResStatus)
	set(&s.HighResVideoURL, p.HighResVideoURL)
	set(&s.ImageURL, p.ImageURL)
	set(&s.ImageStatus, p.ImageStatus)
}
