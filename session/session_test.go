package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/config"
	"github.com/oumi-open-ai/AIShortX-sub001/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameIDs(s *models.ProjectSnapshot) []int64 { return ids(s, models.KindStoryboard) }

func TestOpenRejectsBadInput(t *testing.T) {
	_, err := Open(context.Background(), Options{ProjectID: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Open(context.Background(), Options{ProjectID: 1700000000123, Remote: newFakeRemote(seedSnapshot())})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Open(context.Background(), Options{ProjectID: 9, Remote: newFakeRemote(seedSnapshot())})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddFrameInsertsAtIndex(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, id, err := s.AddFrame(2, models.Storyboard{Text: "the boat leaves"})
	require.NoError(t, err)
	assert.True(t, models.IsPlaceholderID(id))
	require.NoError(t, waitTask(t, task))

	durable := s.ResolveID(models.KindStoryboard, id)
	assert.True(t, models.IsDurableID(durable))

	snap := s.Snapshot()
	require.Len(t, snap.Storyboards, 6)
	assert.Equal(t, []int64{41, 42, durable, 43, 44, 45}, frameIDs(snap))
	assert.Equal(t, "the boat leaves", snap.Storyboards[2].Text)
	assert.Equal(t, "add storyboard", s.UndoDescription())

	assert.Equal(t, 1, r.saveCount(models.KindStoryboard))
	assert.Equal(t, 0, r.saveCount(models.KindCharacter))
	assert.Equal(t, []int64{41, 42, durable, 43, 44, 45}, frameIDs(r.snapshot()))
}

func TestAttachCharacterScopedAndUndoable(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	assert.Equal(t, models.IDList{11}, findFrame(s.Snapshot(), 41).CharacterIDs)
	assert.Equal(t, "attach character", s.UndoDescription())
	assert.Equal(t, 1, r.saveCount(models.KindStoryboard))
	for _, kind := range models.AssetKinds {
		assert.Equal(t, 0, r.saveCount(kind), kind)
	}

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Empty(t, findFrame(s.Snapshot(), 41).CharacterIDs)
	assert.Empty(t, findFrame(r.snapshot(), 41).CharacterIDs)
	assert.True(t, s.CanRedo())
	assert.Equal(t, "attach character", s.RedoDescription())

	task, err = s.Redo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, models.IDList{11}, findFrame(s.Snapshot(), 41).CharacterIDs)
	assert.False(t, s.CanRedo())
	assert.Equal(t, 3, r.saveCount(models.KindStoryboard))
}

func TestAttachTwiceIsNoop(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.AttachProp(42, 31)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	task, err = s.AttachProp(42, 31)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	undo, _ := s.history.Len()
	assert.Equal(t, 1, undo)
	assert.Equal(t, 1, r.saveCount(models.KindStoryboard))

	_, err = s.DetachProp(99, 31)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReorderCharactersIsAutosavedNotRecorded(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.SetFrameCharacters(41, []int64{11, 12})
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	_, err = s.SetFrameCharacters(41, []int64{12, 11})
	require.NoError(t, err)
	undo, _ := s.history.Len()
	assert.Equal(t, 1, undo)

	assert.Eventually(t, func() bool {
		f := findFrame(r.snapshot(), 41)
		return f != nil && sameIDs(f.CharacterIDs, models.IDList{12, 11})
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGenerateRejectsPlaceholderIDs(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, n := openTestSession(t, r)

	_, err := s.GenerateImage(context.Background(), models.KindCharacter, 1700000000123, "")
	assert.ErrorIs(t, err, ErrStillSaving)
	_, err = s.GenerateVideo(context.Background(), 1700000000123, VideoPrimary, "")
	assert.ErrorIs(t, err, ErrStillSaving)
	_, err = s.RegisterCharacter(context.Background(), 1700000000123)
	assert.ErrorIs(t, err, ErrStillSaving)

	// a real placeholder whose save failed stays unconfirmed
	r.mu.Lock()
	r.saveErr = errors.New("connection reset")
	r.mu.Unlock()
	task, id, err := s.AddScene(models.Scene{Asset: models.Asset{Name: "Market"}})
	require.NoError(t, err)
	assert.Error(t, waitTask(t, task))
	_, err = s.GenerateImage(context.Background(), models.KindScene, id, "")
	assert.ErrorIs(t, err, ErrStillSaving)

	assert.Equal(t, 0, r.jobCount())
	assert.Contains(t, n.warnings(), ErrStillSaving.Error())
	assert.Equal(t, models.MediaStatusIdle, findAsset(s.Snapshot(), models.KindScene, id).ImageStatus)
}

func TestGenerateImageMergesPolledResult(t *testing.T) {
	snap := seedSnapshot()
	snap.Storyboards[0].ImageStatus = models.MediaStatusDraft
	r := newFakeRemote(snap)
	s, _ := openTestSession(t, r)

	job, err := s.GenerateImage(context.Background(), models.KindStoryboard, 41, "flux")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, models.MediaStatusGenerating, findFrame(s.Snapshot(), 41).ImageStatus)
	assert.True(t, s.Poller().Polling(models.KindStoryboard))
	assert.False(t, s.Poller().Polling(models.KindCharacter))

	// remote still reports the draft baseline
	assert.Eventually(t, func() bool { return r.getCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	f := findFrame(s.Snapshot(), 41)
	assert.Equal(t, models.MediaStatusGenerating, f.ImageStatus)
	assert.Empty(t, f.ImageURL)

	r.update(func(rs *models.ProjectSnapshot) {
		rf := findFrame(rs, 41)
		rf.ImageURL, rf.ImageStatus = "https://x/y.png", models.MediaStatusGenerated
	})
	assert.Eventually(t, func() bool {
		return findFrame(s.Snapshot(), 41).ImageStatus == models.MediaStatusGenerated
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://x/y.png", findFrame(s.Snapshot(), 41).ImageURL)

	assert.Eventually(t, func() bool { return !s.Poller().Polling(models.KindStoryboard) }, 2*time.Second, 5*time.Millisecond)
	gets := r.getCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, gets, r.getCount())
}

func TestGenerateVideoFailureReportedByRemote(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	_, err := s.GenerateVideo(context.Background(), 42, VideoEnhanced, "")
	require.NoError(t, err)
	assert.Equal(t, models.MediaStatusGenerating, findFrame(s.Snapshot(), 42).HighResStatus)
	assert.Equal(t, models.MediaStatusIdle, findFrame(s.Snapshot(), 42).VideoStatus)

	r.update(func(rs *models.ProjectSnapshot) {
		rf := findFrame(rs, 42)
		rf.HighResStatus, rf.HighResError = models.MediaStatusFailed, "provider quota exceeded"
	})
	assert.Eventually(t, func() bool {
		return findFrame(s.Snapshot(), 42).HighResStatus == models.MediaStatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "provider quota exceeded", findFrame(s.Snapshot(), 42).HighResError)

	_, err = s.GenerateVideo(context.Background(), 42, VideoVariant("proxy"), "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGenerateRequestFailureMarksFailed(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	r.genErr = errors.New("503 service unavailable")
	s, _ := openTestSession(t, r)

	_, err := s.RegisterCharacter(context.Background(), 11)
	require.Error(t, err)
	c := findCharacter(s.Snapshot(), 11)
	assert.Equal(t, models.CreationStatusFailed, c.CreationStatus)
	assert.Contains(t, c.CreationError, "503")
	assert.False(t, s.Poller().Polling(models.KindCharacter))

	_, err = s.GenerateImage(context.Background(), models.KindProp, 77, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUndoAllRestoresInitialState(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)
	initial := s.Snapshot()

	name := "harbor at dawn"
	steps := []func() (*Task, error){
		func() (*Task, error) { return s.AttachCharacter(41, 11) },
		func() (*Task, error) { return s.SetFrameScene(42, 21) },
		func() (*Task, error) { return s.MoveFrame(0, 4) },
		func() (*Task, error) { return s.AttachProp(44, 31) },
		func() (*Task, error) { return s.ApplyFrameMedia(45, FieldImageURL, "https://x/alt.png") },
		func() (*Task, error) { return s.ApplyAssetMedia(models.KindScene, 21, "https://x/pier.png") },
		func() (*Task, error) { return completedTask("text"), s.SetFrameText(43, "rewritten") },
		func() (*Task, error) {
			return completedTask("meta"), s.UpdateMetadata(models.ProjectUpdate{Name: &name})
		},
	}
	for i, step := range steps {
		task, err := step()
		require.NoError(t, err, "step %d", i)
		require.NoError(t, waitTask(t, task), "step %d", i)
	}
	assert.NotEqual(t, initial, s.Snapshot())
	undo, _ := s.history.Len()
	require.Equal(t, len(steps), undo)

	for range steps {
		task, err := s.Undo()
		require.NoError(t, err)
		require.NoError(t, waitTask(t, task))
	}
	assert.Equal(t, initial, s.Snapshot())
	_, err := s.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)

	_, redo := s.history.Len()
	assert.Equal(t, len(steps), redo)

	// a new edit invalidates the redo branch
	task, err := s.AttachCharacter(41, 12)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.False(t, s.CanRedo())
	_, err = s.Redo()
	assert.ErrorIs(t, err, ErrNothingToRedo)
}

func TestFrameMediaUndoPatchesOnlyMedia(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.ApplyFrameMedia(43, FieldVideoURL, "https://x/take2.mp4")
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	r.mu.Lock()
	patches := r.patches[43]
	r.mu.Unlock()
	require.Len(t, patches, 2)
	last := patches[1]
	require.NotNil(t, last.VideoURL)
	assert.Equal(t, "", *last.VideoURL)
	assert.Equal(t, models.MediaStatusIdle, *last.Status)
	assert.Nil(t, last.ImageURL)
	assert.Nil(t, last.HighResVideoURL)
	assert.Equal(t, 0, r.saveCount(models.KindStoryboard))

	_, err = s.ApplyFrameMedia(1700000000123, FieldImageURL, "https://x/a.png")
	assert.ErrorIs(t, err, ErrStillSaving)
}

func TestUndoRedoOfCreateReusesDurableID(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	// the attach is recorded while the character still has its placeholder
	entered, release := r.hold(models.KindCharacter)
	addTask, id, err := s.AddCharacter(models.Character{Asset: models.Asset{Name: "Cat"}})
	require.NoError(t, err)
	<-entered
	task, err := s.AttachCharacter(41, id)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	release()
	require.NoError(t, waitTask(t, addTask))
	require.NoError(t, s.Wait(context.Background()))

	durable := s.ResolveID(models.KindCharacter, id)
	require.True(t, models.IsDurableID(durable))
	assert.Equal(t, models.IDList{durable}, findFrame(s.Snapshot(), 41).CharacterIDs)
	assert.Equal(t, models.IDList{durable}, findFrame(r.snapshot(), 41).CharacterIDs)

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	snap := s.Snapshot()
	assert.Empty(t, findFrame(snap, 41).CharacterIDs)
	assert.Nil(t, findCharacter(snap, id))
	require.NotNil(t, findCharacter(snap, durable))

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Nil(t, findCharacter(s.Snapshot(), durable))
	assert.Contains(t, r.deleted(), EntityRef{Kind: models.KindCharacter, ID: durable})

	for i := 0; i < 2; i++ {
		task, err = s.Redo()
		require.NoError(t, err)
		require.NoError(t, waitTask(t, task))
	}
	snap = s.Snapshot()
	require.NotNil(t, findCharacter(snap, durable))
	assert.Equal(t, models.IDList{durable}, findFrame(snap, 41).CharacterIDs)
	r.mu.Lock()
	created := r.created
	r.mu.Unlock()
	assert.Equal(t, 1, created)
	assert.NotNil(t, findCharacter(r.snapshot(), durable))
}

func TestDeleteWhileCreateInFlight(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	entered, release := r.hold(models.KindScene)
	addTask, id, err := s.AddScene(models.Scene{Asset: models.Asset{Name: "Alley"}})
	require.NoError(t, err)
	<-entered

	delTask, err := s.DeleteAsset(models.KindScene, id)
	require.NoError(t, err)
	assert.Nil(t, findAsset(s.Snapshot(), models.KindScene, id))
	release()

	require.NoError(t, waitTask(t, addTask))
	require.NoError(t, waitTask(t, delTask))
	durable := s.ResolveID(models.KindScene, id)
	require.True(t, models.IsDurableID(durable))
	assert.Contains(t, r.deleted(), EntityRef{Kind: models.KindScene, ID: durable})
	assert.Nil(t, findAsset(r.snapshot(), models.KindScene, durable))
	assert.Equal(t, []int64{21}, ids(r.snapshot(), models.KindScene))
}

func TestDeleteAssetDetachesFrames(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	task, err = s.SetFrameScene(43, 21)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	task, err = s.DeleteAsset(models.KindCharacter, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Empty(t, findFrame(s.Snapshot(), 41).CharacterIDs)
	assert.Equal(t, []EntityRef{{Kind: models.KindCharacter, ID: 11}}, r.deleted())
	assert.Equal(t, 1, r.saveCount(models.KindCharacter))
	assert.Equal(t, 3, r.saveCount(models.KindStoryboard))

	task, err = s.DeleteAsset(models.KindScene, 21)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, int64(0), findFrame(s.Snapshot(), 43).SceneID)

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, int64(21), findFrame(s.Snapshot(), 43).SceneID)
	assert.Equal(t, []int64{21}, ids(r.snapshot(), models.KindScene))

	_, err = s.DeleteAsset(models.KindProp, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFrameAndUndo(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.DeleteFrame(43)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, []int64{41, 42, 44, 45}, frameIDs(s.Snapshot()))
	assert.Equal(t, []EntityRef{{Kind: models.KindStoryboard, ID: 43}}, r.deleted())
	assert.Equal(t, 1, r.saveCount(models.KindStoryboard))

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, []int64{41, 42, 43, 44, 45}, frameIDs(s.Snapshot()))
	assert.Equal(t, []int64{41, 42, 43, 44, 45}, frameIDs(r.snapshot()))

	task, err = s.Redo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, []int64{41, 42, 44, 45}, frameIDs(r.snapshot()))
	assert.Len(t, r.deleted(), 2)

	_, err = s.DeleteFrame(43)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMoveFrame(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.MoveFrame(4, 1)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, []int64{41, 45, 42, 43, 44}, frameIDs(s.Snapshot()))
	assert.Equal(t, []int64{41, 45, 42, 43, 44}, frameIDs(r.snapshot()))

	task, err = s.MoveFrame(2, 2)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, 1, r.saveCount(models.KindStoryboard))

	_, err = s.MoveFrame(0, 5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUndoRacesUnrelatedSave(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r, func(c *config.SessionConfig) {
		c.UndoGuardDelay = 60 * time.Millisecond
		c.Debounce = 10 * time.Millisecond
	})

	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	require.NoError(t, s.UpdateAsset(models.KindCharacter, 12, "Bobby", "the ferryman"))
	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	assert.Eventually(t, func() bool { return findCharacter(r.snapshot(), 12).Name == "Bobby" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.saveCount(models.KindCharacter))
	assert.Equal(t, 2, r.saveCount(models.KindStoryboard))
	assert.Empty(t, findFrame(r.snapshot(), 41).CharacterIDs)
}

func TestUndoGuardDefersWhenStateMoves(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r, func(c *config.SessionConfig) {
		c.UndoGuardDelay = 80 * time.Millisecond
	})

	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	undoTask, err := s.Undo()
	require.NoError(t, err)
	addTask, _, err := s.AddFrame(0, models.Storyboard{Text: "cold open"})
	require.NoError(t, err)
	require.NoError(t, waitTask(t, addTask))
	require.NoError(t, waitTask(t, undoTask))

	// attach, then the added frame; the undo sync was skipped
	assert.Equal(t, 2, r.saveCount(models.KindStoryboard))
	r.mu.Lock()
	meta := r.meta
	r.mu.Unlock()
	assert.Equal(t, 0, meta)

	require.NoError(t, s.Close())
	r.mu.Lock()
	meta = r.meta
	r.mu.Unlock()
	assert.Equal(t, 1, meta)
	assert.Empty(t, findFrame(r.snapshot(), 41).CharacterIDs)
	assert.Len(t, r.snapshot().Storyboards, 6)
}

func TestUndoKeepsFinishedMedia(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	_, err := s.GenerateImage(context.Background(), models.KindStoryboard, 41, "")
	require.NoError(t, err)
	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	r.update(func(rs *models.ProjectSnapshot) {
		rf := findFrame(rs, 41)
		rf.ImageURL, rf.ImageStatus = "https://x/f41.png", models.MediaStatusGenerated
	})
	assert.Eventually(t, func() bool {
		return findFrame(s.Snapshot(), 41).ImageStatus == models.MediaStatusGenerated
	}, 2*time.Second, 5*time.Millisecond)

	// the undo entry was captured while the job was still running
	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	f := findFrame(s.Snapshot(), 41)
	assert.Empty(t, f.CharacterIDs)
	assert.Equal(t, models.MediaStatusGenerated, f.ImageStatus)
	assert.Equal(t, "https://x/f41.png", f.ImageURL)
}

func TestUndoKeepsMediaGeneratedAfterCapture(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	// the job starts and finishes after the undo entry was captured
	_, err = s.GenerateImage(context.Background(), models.KindStoryboard, 41, "")
	require.NoError(t, err)
	r.update(func(rs *models.ProjectSnapshot) {
		rf := findFrame(rs, 41)
		rf.ImageURL, rf.ImageStatus = "https://x/f41.png", models.MediaStatusGenerated
	})
	assert.Eventually(t, func() bool {
		return findFrame(s.Snapshot(), 41).ImageStatus == models.MediaStatusGenerated
	}, 2*time.Second, 5*time.Millisecond)

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	f := findFrame(s.Snapshot(), 41)
	assert.Empty(t, f.CharacterIDs)
	assert.Equal(t, models.MediaStatusGenerated, f.ImageStatus)
	assert.Equal(t, "https://x/f41.png", f.ImageURL)

	task, err = s.Redo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	f = findFrame(s.Snapshot(), 41)
	assert.Equal(t, models.IDList{11}, f.CharacterIDs)
	assert.Equal(t, "https://x/f41.png", f.ImageURL)
}

func TestUndoLeavesOtherCollectionsLive(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	require.NoError(t, s.UpdateAsset(models.KindCharacter, 12, "Bobby", "the ferryman"))
	require.NoError(t, s.UpdateAsset(models.KindScene, 21, "Night pier", ""))

	task, err = s.Undo()
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Empty(t, findFrame(snap, 41).CharacterIDs)
	assert.Equal(t, "Bobby", findCharacter(snap, 12).Name)
	assert.Equal(t, "Night pier", findAsset(snap, models.KindScene, 21).Name)
	require.NoError(t, waitTask(t, task))

	require.NoError(t, s.Close())
	remote := r.snapshot()
	assert.Equal(t, "Bobby", findCharacter(remote, 12).Name)
	assert.Equal(t, "Night pier", findAsset(remote, models.KindScene, 21).Name)
	assert.Empty(t, findFrame(remote, 41).CharacterIDs)
}

func TestUndoKeepsRunningJob(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.AttachCharacter(42, 12)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	_, err = s.GenerateVideo(context.Background(), 42, VideoPrimary, "")
	require.NoError(t, err)

	task, err = s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, models.MediaStatusGenerating, findFrame(s.Snapshot(), 42).VideoStatus)
	assert.True(t, s.Poller().Polling(models.KindStoryboard))
}

func TestSyncFailureKeepsLocalState(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, n := openTestSession(t, r)

	task, err := s.AttachCharacter(41, 11)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	r.mu.Lock()
	r.saveErr = errors.New("connection refused")
	r.mu.Unlock()

	task, err = s.Undo()
	require.NoError(t, err)
	assert.Error(t, waitTask(t, task))
	assert.Empty(t, findFrame(s.Snapshot(), 41).CharacterIDs)
	assert.Contains(t, n.warnings(), ErrSyncFailed.Error())

	task, err = s.AttachProp(41, 31)
	require.NoError(t, err)
	assert.Error(t, waitTask(t, task))
	assert.Equal(t, models.IDList{31}, findFrame(s.Snapshot(), 41).PropIDs)
	assert.Len(t, n.warnings(), 2)
}

func TestTextEditsCoalesce(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r, func(c *config.SessionConfig) { c.Debounce = time.Second })

	for _, text := range []string{"T", "Th", "The", "The tide"} {
		require.NoError(t, s.SetFrameText(44, text))
	}
	undo, _ := s.history.Len()
	assert.Equal(t, 1, undo)
	assert.Equal(t, 0, r.saveCount(models.KindStoryboard))
	assert.True(t, s.autosave.Pending(saveKey(models.KindStoryboard)))

	require.NoError(t, s.Close())
	assert.Equal(t, 1, r.saveCount(models.KindStoryboard))
	assert.Equal(t, "The tide", findFrame(r.snapshot(), 44).Text)

	assert.ErrorIs(t, s.SetFrameText(44, "late"), ErrSessionClosed)
	_, err := s.Undo()
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestTypingLongerThanDebounceIsOneStep(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r, func(c *config.SessionConfig) { c.Debounce = 200 * time.Millisecond })

	// each keystroke lands inside the window of the previous one
	for _, text := range []string{"T", "Th", "The", "The t", "The ti", "The tide"} {
		require.NoError(t, s.SetFrameText(44, text))
		time.Sleep(80 * time.Millisecond)
	}
	undo, _ := s.history.Len()
	assert.Equal(t, 1, undo)

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.SetFrameText(44, "The tide turns"))
	undo, _ = s.history.Len()
	assert.Equal(t, 2, undo)

	task, err := s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, "The tide", findFrame(s.Snapshot(), 44).Text)
}

func TestTextUndoRestoresOriginal(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r, func(c *config.SessionConfig) { c.Debounce = time.Second })

	require.NoError(t, s.SetFrameText(44, "a"))
	require.NoError(t, s.SetFrameText(44, "ab"))
	task, err := s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, "line 4", findFrame(s.Snapshot(), 44).Text)
	assert.Equal(t, "line 4", findFrame(r.snapshot(), 44).Text)
}

func TestUpdateFrameKeepsReferencesAndMedia(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	require.NoError(t, s.UpdateFrame(41, func(f *models.Storyboard) {
		f.Prompt = "wide shot, fog"
		f.Duration = 5
		f.ImageStatus = models.MediaStatusGenerated
		f.SceneID = 21
		f.ID = 7
	}))
	f := findFrame(s.Snapshot(), 41)
	require.NotNil(t, f)
	assert.Equal(t, "wide shot, fog", f.Prompt)
	assert.Equal(t, 5, f.Duration)
	assert.Equal(t, models.MediaStatusIdle, f.ImageStatus)
	assert.Equal(t, int64(0), f.SceneID)
	assert.False(t, s.CanUndo())
	assert.Eventually(t, func() bool { return findFrame(r.snapshot(), 41).Prompt == "wide shot, fog" }, 2*time.Second, 5*time.Millisecond)
}

func TestLibraryLinkRoundTrip(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	task, err := s.LinkLibrary(12, 900, models.AssetBackup{Name: "Captain", Description: "from library", ImageURL: "https://x/cap.png", ImageStatus: models.MediaStatusGenerated})
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	c := findCharacter(s.Snapshot(), 12)
	require.NotNil(t, c.LibraryID)
	assert.Equal(t, int64(900), *c.LibraryID)
	assert.Equal(t, "Captain", c.Name)
	require.NotNil(t, c.LibraryBackup)
	assert.Equal(t, "Bob", c.LibraryBackup.Name)
	assert.Equal(t, 1, r.saveCount(models.KindCharacter))

	task, err = s.UnlinkLibrary(12)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	c = findCharacter(s.Snapshot(), 12)
	assert.Nil(t, c.LibraryID)
	assert.Nil(t, c.LibraryBackup)
	assert.Equal(t, "Bob", c.Name)
	assert.Equal(t, models.MediaStatusIdle, c.ImageStatus)

	_, err = s.UnlinkLibrary(12)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdateMetadata(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	bad := "4:3"
	assert.ErrorIs(t, s.UpdateMetadata(models.ProjectUpdate{AspectRatio: &bad}), ErrInvalidArgument)

	ratio := models.AspectRatioPortrait
	require.NoError(t, s.UpdateMetadata(models.ProjectUpdate{AspectRatio: &ratio}))
	assert.Equal(t, "edit project settings", s.UndoDescription())
	assert.Eventually(t, func() bool {
		return r.snapshot().Project.AspectRatio == models.AspectRatioPortrait
	}, 2*time.Second, 5*time.Millisecond)
	for _, kind := range models.AllKinds {
		assert.Equal(t, 0, r.saveCount(kind))
	}

	task, err := s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, models.AspectRatioWidescreen, r.snapshot().Project.AspectRatio)
}

func TestCheckpointFullFlush(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	s, _ := openTestSession(t, r)

	require.NoError(t, s.Checkpoint("before batch"))
	assert.Equal(t, "before batch", s.UndoDescription())
	task, err := s.Undo()
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	for _, kind := range models.AllKinds {
		assert.Equal(t, 1, r.saveCount(kind), kind)
	}
	r.mu.Lock()
	assert.Equal(t, 1, r.meta)
	r.mu.Unlock()
}

func TestPlaceholderIDsIncrease(t *testing.T) {
	r := newFakeRemote(seedSnapshot())
	fixed := time.UnixMilli(1700000000123)
	s, err := Open(context.Background(), Options{ProjectID: 1, Remote: r, Clock: func() time.Time { return fixed }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	a, b := s.newPlaceholder(), s.newPlaceholder()
	assert.Equal(t, int64(1700000000123), a)
	assert.Equal(t, a+1, b)
	assert.True(t, models.IsPlaceholderID(a))
}
