package session

import "github.com/oumi-open-ai/AIShortX-sub001/models"

// OpKind is the closed set of operation categories recorded with every history entry.
// The sync engine dispatches on it to scope which remote writes an undo or redo needs.
type OpKind int

const (
	// OpNone marks a transition without a specific cause; it syncs as a full flush.
	OpNone OpKind = iota

	OpAddStoryboard
	OpDeleteStoryboard
	OpMoveStoryboard
	OpEditStoryboardText
	OpAttachCharacter
	OpDetachCharacter
	OpAttachScene
	OpDetachScene
	OpAttachProp
	OpDetachProp

	OpApplyHistoryMediaCharacter
	OpApplyHistoryMediaScene
	OpApplyHistoryMediaProp
	OpApplyHistoryMediaFrameImage
	OpApplyHistoryMediaFrameVideo

	OpProjectMetadata

	OpAddCharacter
	OpAddScene
	OpAddProp
	OpDeleteCharacter
	OpDeleteScene
	OpDeleteProp
	OpLinkLibrary
	OpUnlinkLibrary
)

var opNames = map[OpKind]string{
	OpNone:                        "none",
	OpAddStoryboard:               "add-storyboard",
	OpDeleteStoryboard:            "delete-storyboard",
	OpMoveStoryboard:              "move-storyboard",
	OpEditStoryboardText:          "edit-storyboard-text",
	OpAttachCharacter:             "attach-character",
	OpDetachCharacter:             "detach-character",
	OpAttachScene:                 "attach-scene",
	OpDetachScene:                 "detach-scene",
	OpAttachProp:                  "attach-prop",
	OpDetachProp:                  "detach-prop",
	OpApplyHistoryMediaCharacter:  "apply-history-media-character",
	OpApplyHistoryMediaScene:      "apply-history-media-scene",
	OpApplyHistoryMediaProp:       "apply-history-media-prop",
	OpApplyHistoryMediaFrameImage: "apply-history-media-frame-image",
	OpApplyHistoryMediaFrameVideo: "apply-history-media-frame-video",
	OpProjectMetadata:             "project-metadata",
	OpAddCharacter:                "add-character",
	OpAddScene:                    "add-scene",
	OpAddProp:                     "add-prop",
	OpDeleteCharacter:             "delete-character",
	OpDeleteScene:                 "delete-scene",
	OpDeleteProp:                  "delete-prop",
	OpLinkLibrary:                 "link-library",
	OpUnlinkLibrary:               "unlink-library",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return "unknown"
}

// storyboardScoped reports whether the operation only touches frame fields or order.
func (k OpKind) storyboardScoped() bool {
	switch k {
	case OpAddStoryboard, OpMoveStoryboard, OpEditStoryboardText,
		OpAttachCharacter, OpDetachCharacter,
		OpAttachScene, OpDetachScene,
		OpAttachProp, OpDetachProp:
		return true
	}
	return false
}

// assetKind returns the collection an asset-level operation writes, if any.
func (k OpKind) assetKind() (models.EntityKind, bool) {
	switch k {
	case OpApplyHistoryMediaCharacter, OpAddCharacter, OpDeleteCharacter, OpLinkLibrary, OpUnlinkLibrary:
		return models.KindCharacter, true
	case OpApplyHistoryMediaScene, OpAddScene, OpDeleteScene:
		return models.KindScene, true
	case OpApplyHistoryMediaProp, OpAddProp, OpDeleteProp:
		return models.KindProp, true
	}
	return "", false
}

// mediaSlots returns the entity kind and slot names whose media the operation writes.
func (k OpKind) mediaSlots() (models.EntityKind, []string) {
	switch k {
	case OpApplyHistoryMediaFrameImage:
		return models.KindStoryboard, []string{"image"}
	case OpApplyHistoryMediaFrameVideo:
		return models.KindStoryboard, []string{"video", "highRes"}
	case OpApplyHistoryMediaCharacter, OpLinkLibrary, OpUnlinkLibrary:
		return models.KindCharacter, []string{"image"}
	case OpApplyHistoryMediaScene:
		return models.KindScene, []string{"image"}
	case OpApplyHistoryMediaProp:
		return models.KindProp, []string{"image"}
	}
	return "", nil
}

func addOp(kind models.EntityKind) OpKind {
	switch kind {
	case models.KindCharacter:
		return OpAddCharacter
	case models.KindScene:
		return OpAddScene
	case models.KindProp:
		return OpAddProp
	}
	return OpAddStoryboard
}

func deleteOp(kind models.EntityKind) OpKind {
	switch kind {
	case models.KindCharacter:
		return OpDeleteCharacter
	case models.KindScene:
		return OpDeleteScene
	case models.KindProp:
		return OpDeleteProp
	}
	return OpDeleteStoryboard
}

func applyMediaOp(kind models.EntityKind) OpKind {
	switch kind {
	case models.KindCharacter:
		return OpApplyHistoryMediaCharacter
	case models.KindScene:
		return OpApplyHistoryMediaScene
	case models.KindProp:
		return OpApplyHistoryMediaProp
	}
	return OpApplyHistoryMediaFrameImage
}
