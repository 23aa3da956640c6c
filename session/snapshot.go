package session

import (
	"sync"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
)

func frameIndex(s *models.ProjectSnapshot, id int64) int {
	for i := range s.Storyboards {
		if s.Storyboards[i].ID == id {
			return i
		}
	}
	return -1
}

func findFrame(s *models.ProjectSnapshot, id int64) *models.Storyboard {
	if i := frameIndex(s, id); i >= 0 {
		return &s.Storyboards[i]
	}
	return nil
}

func findCharacter(s *models.ProjectSnapshot, id int64) *models.Character {
	for i := range s.Characters {
		if s.Characters[i].ID == id {
			return &s.Characters[i]
		}
	}
	return nil
}

func findAsset(s *models.ProjectSnapshot, kind models.EntityKind, id int64) *models.Asset {
	for _, a := range s.Assets(kind) {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// entitySlots returns the media slots of one entity, or nil when it does not exist.
func entitySlots(s *models.ProjectSnapshot, kind models.EntityKind, id int64) []models.MediaSlot {
	switch kind {
	case models.KindCharacter:
		if c := findCharacter(s, id); c != nil {
			return c.MediaSlots()
		}
	case models.KindScene, models.KindProp:
		if a := findAsset(s, kind, id); a != nil {
			return a.MediaSlots()
		}
	case models.KindStoryboard:
		if f := findFrame(s, id); f != nil {
			return f.MediaSlots()
		}
	}
	return nil
}

func slotByName(slots []models.MediaSlot, name string) (models.MediaSlot, bool) {
	for _, sl := range slots {
		if sl.Name == name {
			return sl, true
		}
	}
	return models.MediaSlot{}, false
}

// ids returns the ids of a collection in order.
func ids(s *models.ProjectSnapshot, kind models.EntityKind) []int64 {
	var out []int64
	if kind == models.KindStoryboard {
		for i := range s.Storyboards {
			out = append(out, s.Storyboards[i].ID)
		}
		return out
	}
	for _, a := range s.Assets(kind) {
		out = append(out, a.ID)
	}
	return out
}

// idDiff returns the ids present only in old (vanished) and only in new (appeared).
func idDiff(old, next []int64) (vanished, appeared []int64) {
	inOld := make(map[int64]bool, len(old))
	for _, id := range old {
		inOld[id] = true
	}
	inNew := make(map[int64]bool, len(next))
	for _, id := range next {
		inNew[id] = true
		if !inOld[id] {
			appeared = append(appeared, id)
		}
	}
	for _, id := range old {
		if !inNew[id] {
			vanished = append(vanished, id)
		}
	}
	return vanished, appeared
}

func durableOnly(in []int64) []int64 {
	var out []int64
	for _, id := range in {
		if models.IsDurableID(id) {
			out = append(out, id)
		}
	}
	return out
}

// refsChanged reports whether any frame present in both snapshots references a
// different scene, character set or prop set.
func refsChanged(old, next *models.ProjectSnapshot) bool {
	for i := range next.Storyboards {
		nf := &next.Storyboards[i]
		of := findFrame(old, nf.ID)
		if of == nil {
			continue
		}
		if of.SceneID != nf.SceneID || !sameIDs(of.CharacterIDs, nf.CharacterIDs) || !sameIDs(of.PropIDs, nf.PropIDs) {
			return true
		}
	}
	return false
}

func sameIDs(a, b models.IDList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// detachAsset removes every frame reference to an asset, reporting whether any existed.
func detachAsset(s *models.ProjectSnapshot, kind models.EntityKind, id int64) bool {
	changed := false
	for i := range s.Storyboards {
		f := &s.Storyboards[i]
		switch kind {
		case models.KindCharacter:
			if f.CharacterIDs.Contains(id) {
				f.CharacterIDs = without(f.CharacterIDs, id)
				changed = true
			}
		case models.KindProp:
			if f.PropIDs.Contains(id) {
				f.PropIDs = without(f.PropIDs, id)
				changed = true
			}
		case models.KindScene:
			if f.SceneID == id {
				f.SceneID = 0
				changed = true
			}
		}
	}
	return changed
}

func without(l models.IDList, id int64) models.IDList {
	out := models.IDList{}
	for _, v := range l {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// remapSnapshot rewrites placeholder ids of kind to durable ids, including frame
// references. It reports whether any frame reference was rewritten.
func remapSnapshot(s *models.ProjectSnapshot, kind models.EntityKind, m map[int64]int64) bool {
	if len(m) == 0 {
		return false
	}
	if kind == models.KindStoryboard {
		for i := range s.Storyboards {
			if to, ok := m[s.Storyboards[i].ID]; ok {
				s.Storyboards[i].ID = to
			}
		}
		return false
	}
	for _, a := range s.Assets(kind) {
		if to, ok := m[a.ID]; ok {
			a.ID = to
		}
	}
	refs := false
	for i := range s.Storyboards {
		f := &s.Storyboards[i]
		switch kind {
		case models.KindCharacter:
			refs = remapList(f.CharacterIDs, m) || refs
		case models.KindProp:
			refs = remapList(f.PropIDs, m) || refs
		case models.KindScene:
			if to, ok := m[f.SceneID]; ok {
				f.SceneID = to
				refs = true
			}
		}
	}
	return refs
}

func remapList(l models.IDList, m map[int64]int64) bool {
	changed := false
	for i, id := range l {
		if to, ok := m[id]; ok {
			l[i] = to
			changed = true
		}
	}
	return changed
}

// idRemap remembers every placeholder that has been confirmed durable, so snapshots
// restored from history can be rewritten before they reach the store.
type idRemap struct {
	mu sync.Mutex
	m  map[models.EntityKind]map[int64]int64
}

func newIDRemap() *idRemap {
	return &idRemap{m: map[models.EntityKind]map[int64]int64{}}
}

func (r *idRemap) add(kind models.EntityKind, mapping map[int64]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst := r.m[kind]
	if dst == nil {
		dst = map[int64]int64{}
		r.m[kind] = dst
	}
	for from, to := range mapping {
		dst[from] = to
	}
}

func (r *idRemap) lookup(kind models.EntityKind, id int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	to, ok := r.m[kind][id]
	return to, ok
}

// apply rewrites every known placeholder in s.
func (r *idRemap) apply(s *models.ProjectSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kind := range models.AllKinds {
		remapSnapshot(s, kind, r.m[kind])
	}
}

// carryJobState keeps the live job state of every media slot in a restored snapshot.
// A slot the undone operation did not write always takes the live url, status and
// error, so media generated after the snapshot was taken survives the restore. A slot
// the operation did write keeps its restored media unless a job is still outstanding
// on it, or the restored slot is generating while the live job has already finished.
func carryJobState(restored, live *models.ProjectSnapshot, kind OpKind) {
	owner, owned := kind.mediaSlots()
	for _, ek := range models.AllKinds {
		liveSlots := live.Slots(ek)
		for id, slots := range restored.Slots(ek) {
			current, ok := liveSlots[id]
			if !ok {
				continue
			}
			for _, sl := range slots {
				cur, ok := slotByName(current, sl.Name)
				if !ok {
					continue
				}
				carry := true
				if ek == owner && containsName(owned, sl.Name) {
					finished := *cur.Status == cur.Done || *cur.Status == cur.Failed
					carry = cur.InProgress() || (sl.InProgress() && finished)
				}
				if carry {
					*sl.URL, *sl.Status, *sl.Error = *cur.URL, *cur.Status, *cur.Error
				}
			}
		}
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// scopeRestore replaces every part of restored that kind does not own with the live
// state. Frame references to an asset collection are restored field by field, so a
// frame edited after the snapshot keeps its other fields.
func scopeRestore(restored, live *models.ProjectSnapshot, kind OpKind) {
	switch {
	case kind == OpNone:
		return
	case kind.storyboardScoped(), kind == OpDeleteStoryboard,
		kind == OpApplyHistoryMediaFrameImage, kind == OpApplyHistoryMediaFrameVideo:
		frames := restored.Storyboards
		*restored = *live.Clone()
		restored.Storyboards = frames
		return
	case kind == OpProjectMetadata:
		project := restored.Project
		*restored = *live.Clone()
		restored.Project = project
		return
	}
	ak, ok := kind.assetKind()
	if !ok {
		return
	}
	out := live.Clone()
	switch ak {
	case models.KindCharacter:
		out.Characters = restored.Characters
	case models.KindScene:
		out.Scenes = restored.Scenes
	case models.KindProp:
		out.Props = restored.Props
	}
	known := map[int64]bool{}
	for _, id := range ids(out, ak) {
		known[id] = true
	}
	for i := range out.Storyboards {
		f := &out.Storyboards[i]
		if of := findFrame(restored, f.ID); of != nil {
			copyRefs(f, of, ak)
			continue
		}
		dropUnknownRefs(f, ak, known)
	}
	*restored = *out
}

func copyRefs(dst, src *models.Storyboard, kind models.EntityKind) {
	switch kind {
	case models.KindCharacter:
		dst.CharacterIDs = src.CharacterIDs.Clone()
	case models.KindProp:
		dst.PropIDs = src.PropIDs.Clone()
	case models.KindScene:
		dst.SceneID = src.SceneID
	}
}

func dropUnknownRefs(f *models.Storyboard, kind models.EntityKind, known map[int64]bool) {
	keep := func(l models.IDList) models.IDList {
		out := models.IDList{}
		for _, id := range l {
			if known[id] {
				out = append(out, id)
			}
		}
		return out
	}
	switch kind {
	case models.KindCharacter:
		f.CharacterIDs = keep(f.CharacterIDs)
	case models.KindProp:
		f.PropIDs = keep(f.PropIDs)
	case models.KindScene:
		if f.SceneID != 0 && !known[f.SceneID] {
			f.SceneID = 0
		}
	}
}
