package models

import (
	"fmt"

	"gorm.io/gorm"
)

// FindSlot returns the named media slot of an entity row.
func FindSlot(r interface{ MediaSlots() []MediaSlot }, name string) (MediaSlot, error) {
	for _, s := range r.MediaSlots() {
		if s.Name == name {
			return s, nil
		}
	}
	return MediaSlot{}, fmt.Errorf("entity has no %q slot", name)
}

// updateSlot loads an entity, lets fn mutate one slot and writes back only that slot's columns.
func updateSlot(db *gorm.DB, kind EntityKind, projectID, id int64, slotName string, fn func(MediaSlot)) error {
	r, err := GetEntity(db, kind, projectID, id)
	if err != nil {
		return err
	}
	slot, err := FindSlot(r, slotName)
	if err != nil {
		return err
	}
	fn(slot)
	fields := append([]string{"UpdatedAt"}, slot.Fields...)
	return db.Model(r).Select(fields).Updates(r).Error
}

// MarkGenerating 在任务提交时把实体的对应槽位置为进行中，并清理旧错误
func MarkGenerating(db *gorm.DB, kind EntityKind, projectID, id int64, slotName string) error {
	return updateSlot(db, kind, projectID, id, slotName, func(s MediaSlot) {
		*s.Status = s.Running
		*s.Error = ""
	})
}

// ApplyGenerationResult 写回任务结果：成功写入 URL 并置为完成，失败写入错误
func ApplyGenerationResult(db *gorm.DB, kind EntityKind, projectID, id int64, slotName, url, errMsg string) error {
	return updateSlot(db, kind, projectID, id, slotName, func(s MediaSlot) {
		if errMsg != "" {
			*s.Status = s.Failed
			*s.Error = errMsg
			return
		}
		*s.URL = url
		*s.Status = s.Done
		*s.Error = ""
	})
}

// ResetSlot 任务被取消时把仍处于进行中的槽位退回 idle
func ResetSlot(db *gorm.DB, kind EntityKind, projectID, id int64, slotName string) error {
	return updateSlot(db, kind, projectID, id, slotName, func(s MediaSlot) {
		if s.InProgress() {
			*s.Status = MediaStatusIdle
			if s.Name == "identity" {
				*s.Status = CreationStatusIdle
			}
		}
	})
}
