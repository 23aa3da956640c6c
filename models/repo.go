package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a row does not exist in the given project.
var ErrNotFound = gorm.ErrRecordNotFound

const sortOrder = "sort_order ASC, id ASC"

// Project CRUD

func CreateProject(db *gorm.DB, p *Project) error {
	if p.AspectRatio == "" {
		p.AspectRatio = AspectRatioWidescreen
	}
	return db.Create(p).Error
}

func GetProjectByID(db *gorm.DB, id int64) (*Project, error) {
	var p Project
	if err := db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProjectSnapshot loads the project and every collection in display order.
func GetProjectSnapshot(db *gorm.DB, projectID int64) (*ProjectSnapshot, error) {
	p, err := GetProjectByID(db, projectID)
	if err != nil {
		return nil, err
	}
	snap := &ProjectSnapshot{
		Project:     *p,
		Characters:  []Character{},
		Scenes:      []Scene{},
		Props:       []Prop{},
		Storyboards: []Storyboard{},
	}
	scoped := func() *gorm.DB { return db.Where("project_id = ?", projectID).Order(sortOrder) }
	if err := scoped().Find(&snap.Characters).Error; err != nil {
		return nil, err
	}
	if err := scoped().Find(&snap.Scenes).Error; err != nil {
		return nil, err
	}
	if err := scoped().Find(&snap.Props).Error; err != nil {
		return nil, err
	}
	if err := scoped().Find(&snap.Storyboards).Error; err != nil {
		return nil, err
	}
	snap.Normalize()
	return snap, nil
}

func UpdateProject(db *gorm.DB, id int64, u ProjectUpdate) (*Project, error) {
	p, err := GetProjectByID(db, id)
	if err != nil {
		return nil, err
	}
	var fields []string
	if u.Name != nil {
		p.Name = *u.Name
		fields = append(fields, "Name")
	}
	if u.AspectRatio != nil {
		if !ValidAspectRatio(*u.AspectRatio) {
			return nil, fmt.Errorf("invalid aspect ratio %q", *u.AspectRatio)
		}
		p.AspectRatio = *u.AspectRatio
		fields = append(fields, "AspectRatio")
	}
	if u.StyleID != nil {
		v := *u.StyleID
		p.StyleID = &v
		fields = append(fields, "StyleID")
	}
	if u.StyleName != nil {
		p.StyleName = *u.StyleName
		fields = append(fields, "StyleName")
	}
	if len(fields) == 0 {
		return p, nil
	}
	p.UpdatedAt = time.Now()
	fields = append(fields, "UpdatedAt")
	if err := db.Model(p).Select(fields).Updates(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProject 删除项目及其全部实体和任务
func DeleteProject(db *gorm.DB, id int64) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&Character{}, &Scene{}, &Prop{}, &Storyboard{}, &Task{}} {
			if err := tx.Where("project_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&Project{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// row is the row behaviour shared by every bulk-saved entity.
type row[T any] interface {
	*T
	Normalize()
	MediaSlots() []MediaSlot
	idRef() *int64
	setOwner(projectID int64, episodeID *int64, order int)
}

// saveRows upserts the full collection in order. Placeholder ids are inserted and
// receive a durable id; durable ids are updated. Media slots that are generating on
// either side keep their stored values, and registration state is server-owned.
func saveRows[T any, P row[T]](db *gorm.DB, projectID int64, episodeID *int64, in []T, clone func(T) T) ([]T, error) {
	out := make([]T, len(in))
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := GetProjectByID(tx, projectID); err != nil {
			return err
		}
		for i := range in {
			item := clone(in[i])
			p := P(&item)
			p.setOwner(projectID, episodeID, i)
			p.Normalize()

			id := p.idRef()
			if IsPlaceholderID(*id) {
				*id = 0
				resetRunningSlots(p.MediaSlots())
				if err := tx.Create(p).Error; err != nil {
					return err
				}
				out[i] = item
				continue
			}

			var stored T
			err := tx.Where("project_id = ?", projectID).First(P(&stored), *id).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				// 撤销删除后重新出现的实体：按原 id 重新插入
				resetRunningSlots(p.MediaSlots())
				if err := tx.Create(p).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				preserveServerSlots(P(&stored).MediaSlots(), p.MediaSlots())
				if err := tx.Omit("CreatedAt").Save(p).Error; err != nil {
					return err
				}
			}
			out[i] = item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resetRunningSlots(slots []MediaSlot) {
	for _, s := range slots {
		if s.InProgress() {
			*s.Status = MediaStatusIdle
			if s.Name == "identity" {
				*s.Status = CreationStatusIdle
			}
		}
	}
}

func preserveServerSlots(stored, incoming []MediaSlot) {
	for i := range incoming {
		if i >= len(stored) {
			return
		}
		if incoming[i].Name == "identity" || stored[i].InProgress() || incoming[i].InProgress() {
			*incoming[i].URL = *stored[i].URL
			*incoming[i].Status = *stored[i].Status
			*incoming[i].Error = *stored[i].Error
		}
	}
}

func SaveCharacters(db *gorm.DB, projectID int64, episodeID *int64, in []Character) ([]Character, error) {
	return saveRows[Character](db, projectID, episodeID, in, Character.Clone)
}

func SaveScenes(db *gorm.DB, projectID int64, episodeID *int64, in []Scene) ([]Scene, error) {
	return saveRows[Scene](db, projectID, episodeID, in, Scene.Clone)
}

func SaveProps(db *gorm.DB, projectID int64, episodeID *int64, in []Prop) ([]Prop, error) {
	return saveRows[Prop](db, projectID, episodeID, in, Prop.Clone)
}

// SaveStoryboards persists the full frame collection; sort_order follows the slice order.
func SaveStoryboards(db *gorm.DB, projectID int64, episodeID *int64, in []Storyboard) ([]Storyboard, error) {
	return saveRows[Storyboard](db, projectID, episodeID, in, Storyboard.Clone)
}

// PatchStoryboardMedia updates only the media fields named by the patch.
func PatchStoryboardMedia(db *gorm.DB, projectID, id int64, patch StoryboardMediaPatch) (*Storyboard, error) {
	var sb Storyboard
	if err := db.Where("project_id = ?", projectID).First(&sb, id).Error; err != nil {
		return nil, err
	}
	if patch.Empty() {
		return &sb, nil
	}
	patch.Apply(&sb)
	fields := []string{"UpdatedAt"}
	if patch.Status != nil {
		fields = append(fields, "VideoStatus")
	}
	if patch.VideoURL != nil {
		fields = append(fields, "VideoURL")
	}
	if patch.HighResStatus != nil {
		fields = append(fields, "HighResStatus")
	}
	if patch.HighResVideoURL != nil {
		fields = append(fields, "HighResVideoURL")
	}
	if patch.ImageURL != nil {
		fields = append(fields, "ImageURL")
	}
	if patch.ImageStatus != nil {
		fields = append(fields, "ImageStatus")
	}
	sb.UpdatedAt = time.Now()
	if err := db.Model(&sb).Select(fields).Updates(&sb).Error; err != nil {
		return nil, err
	}
	return &sb, nil
}

// NewRow returns an empty row of the given kind.
func NewRow(kind EntityKind) (interface{ MediaSlots() []MediaSlot }, error) {
	switch kind {
	case KindCharacter:
		return &Character{}, nil
	case KindScene:
		return &Scene{}, nil
	case KindProp:
		return &Prop{}, nil
	case KindStoryboard:
		return &Storyboard{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// GetEntity loads one row of kind scoped to the project.
func GetEntity(db *gorm.DB, kind EntityKind, projectID, id int64) (interface{ MediaSlots() []MediaSlot }, error) {
	r, err := NewRow(kind)
	if err != nil {
		return nil, err
	}
	if err := db.Where("project_id = ?", projectID).First(r, id).Error; err != nil {
		return nil, err
	}
	return r, nil
}

func DeleteEntity(db *gorm.DB, kind EntityKind, projectID, id int64) error {
	r, err := NewRow(kind)
	if err != nil {
		return err
	}
	res := db.Where("project_id = ? AND id = ?", projectID, id).Delete(r)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
