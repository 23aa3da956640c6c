package models

import "time"

// 画面比例
const (
	AspectRatioWidescreen = "16:9"
	AspectRatioPortrait   = "9:16"
)

func ValidAspectRatio(r string) bool {
	return r == AspectRatioWidescreen || r == AspectRatioPortrait
}

type Project struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:200" json:"name"`
	AspectRatio string    `gorm:"size:16" json:"aspectRatio"`
	StyleID     *int64    `json:"styleId,omitempty"`
	StyleName   string    `gorm:"size:100" json:"styleName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

func (p Project) Clone() Project {
	if p.StyleID != nil {
		v := *p.StyleID
		p.StyleID = &v
	}
	return p
}

// ProjectUpdate carries the optional metadata fields of a project update.
type ProjectUpdate struct {
	Name        *string `json:"name,omitempty"`
	AspectRatio *string `json:"aspectRatio,omitempty"`
	StyleID     *int64  `json:"styleId,omitempty"`
	StyleName   *string `json:"styleName,omitempty"`
}

// ProjectSnapshot is the full editable state of a project.
type ProjectSnapshot struct {
	Project     Project      `json:"project"`
	Characters  []Character  `json:"characters"`
	Scenes      []Scene      `json:"scenes"`
	Props       []Prop       `json:"props"`
	Storyboards []Storyboard `json:"storyboards"`
}

// Clone returns a deep copy sharing no memory with s.
func (s *ProjectSnapshot) Clone() *ProjectSnapshot {
	if s == nil {
		return nil
	}
	out := &ProjectSnapshot{Project: s.Project.Clone()}
	if s.Characters != nil {
		out.Characters = make([]Character, len(s.Characters))
		for i, c := range s.Characters {
			out.Characters[i] = c.Clone()
		}
	}
	if s.Scenes != nil {
		out.Scenes = make([]Scene, len(s.Scenes))
		for i, c := range s.Scenes {
			out.Scenes[i] = c.Clone()
		}
	}
	if s.Props != nil {
		out.Props = make([]Prop, len(s.Props))
		for i, c := range s.Props {
			out.Props[i] = c.Clone()
		}
	}
	if s.Storyboards != nil {
		out.Storyboards = make([]Storyboard, len(s.Storyboards))
		for i, f := range s.Storyboards {
			out.Storyboards[i] = f.Clone()
		}
	}
	return out
}

// Assets returns pointers into the asset collection of the given kind.
func (s *ProjectSnapshot) Assets(kind EntityKind) []*Asset {
	var out []*Asset
	switch kind {
	case KindCharacter:
		for i := range s.Characters {
			out = append(out, &s.Characters[i].Asset)
		}
	case KindScene:
		for i := range s.Scenes {
			out = append(out, &s.Scenes[i].Asset)
		}
	case KindProp:
		for i := range s.Props {
			out = append(out, &s.Props[i].Asset)
		}
	}
	return out
}

// Len returns the size of the collection of the given kind.
func (s *ProjectSnapshot) Len(kind EntityKind) int {
	switch kind {
	case KindCharacter:
		return len(s.Characters)
	case KindScene:
		return len(s.Scenes)
	case KindProp:
		return len(s.Props)
	case KindStoryboard:
		return len(s.Storyboards)
	}
	return 0
}

// Slots returns the media slots of every entity of kind, keyed by entity id.
func (s *ProjectSnapshot) Slots(kind EntityKind) map[int64][]MediaSlot {
	out := map[int64][]MediaSlot{}
	switch kind {
	case KindCharacter:
		for i := range s.Characters {
			out[s.Characters[i].ID] = s.Characters[i].MediaSlots()
		}
	case KindScene, KindProp:
		for _, a := range s.Assets(kind) {
			out[a.ID] = a.MediaSlots()
		}
	case KindStoryboard:
		for i := range s.Storyboards {
			out[s.Storyboards[i].ID] = s.Storyboards[i].MediaSlots()
		}
	}
	return out
}

// Normalize fills empty status fields with their idle baselines.
func (s *ProjectSnapshot) Normalize() {
	if s.Project.AspectRatio == "" {
		s.Project.AspectRatio = AspectRatioWidescreen
	}
	for i := range s.Characters {
		s.Characters[i].Normalize()
	}
	for i := range s.Scenes {
		s.Scenes[i].Normalize()
	}
	for i := range s.Props {
		s.Props[i].Normalize()
	}
	for i := range s.Storyboards {
		s.Storyboards[i].Normalize()
	}
}
