package session

import (
	"github.com/oumi-open-ai/AIShortX-sub001/models"
)

// Mutated field names understood by Classify.
const (
	FieldCharacterIDs    = "characterIds"
	FieldSceneID         = "sceneId"
	FieldPropIDs         = "propIds"
	FieldImageURL        = "imageUrl"
	FieldVideoURL        = "videoUrl"
	FieldHighResVideoURL = "highResVideoUrl"
)

// Mutation describes a single field change. Old and New hold the field's prior and
// next values: []int64 or models.IDList for id lists, int64 for the scene reference,
// string for media URLs.
type Mutation struct {
	Entity models.EntityKind
	Field  string
	Old    interface{}
	New    interface{}
}

type Classification struct {
	HistoryWorthy bool
	Kind          OpKind
	Description   string
}

func notWorthy() Classification { return Classification{Kind: OpNone} }

func worthy(kind OpKind, desc string) Classification {
	return Classification{HistoryWorthy: true, Kind: kind, Description: desc}
}

// Classify decides whether a field change is history-worthy and which operation it
// belongs to. Structural frame operations (insert, delete, move, text edit) are not
// inferred here; their call sites record them directly.
func Classify(m Mutation) Classification {
	if m.Entity == models.KindStoryboard {
		switch m.Field {
		case FieldCharacterIDs:
			return classifyList(m, OpAttachCharacter, OpDetachCharacter, "character")
		case FieldSceneID:
			before, after := asID(m.Old), asID(m.New)
			switch {
			case before == 0 && after != 0:
				return worthy(OpAttachScene, "attach scene")
			case before != 0 && after == 0:
				return worthy(OpDetachScene, "detach scene")
			}
			return notWorthy()
		case FieldPropIDs:
			return classifyList(m, OpAttachProp, OpDetachProp, "prop")
		}
	}
	if isMediaField(m.Entity, m.Field) {
		before, after := asString(m.Old), asString(m.New)
		if before == after {
			return notWorthy()
		}
		switch m.Entity {
		case models.KindStoryboard:
			if m.Field == FieldImageURL {
				return worthy(OpApplyHistoryMediaFrameImage, "apply history image to frame")
			}
			return worthy(OpApplyHistoryMediaFrameVideo, "apply history video to frame")
		case models.KindCharacter, models.KindScene, models.KindProp:
			return worthy(applyMediaOp(m.Entity), "apply history image to "+string(m.Entity))
		}
	}
	return notWorthy()
}

func classifyList(m Mutation, grow, shrink OpKind, noun string) Classification {
	before, after := len(asIDs(m.Old)), len(asIDs(m.New))
	switch {
	case after > before:
		return worthy(grow, "attach "+noun)
	case after < before:
		return worthy(shrink, "detach "+noun)
	}
	return notWorthy()
}

func isMediaField(kind models.EntityKind, field string) bool {
	if kind == models.KindStoryboard {
		return field == FieldImageURL || field == FieldVideoURL || field == FieldHighResVideoURL
	}
	return field == FieldImageURL
}

func asIDs(v interface{}) []int64 {
	switch x := v.(type) {
	case []int64:
		return x
	case models.IDList:
		return x
	}
	return nil
}

func asID(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case *int64:
		if x != nil {
			return *x
		}
	}
	return 0
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case *string:
		if x != nil {
			return *x
		}
	}
	return ""
}
