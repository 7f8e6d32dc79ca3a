package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/session"
)

func playback(usecase string) *session.Session {
	return session.New(models.Descriptor{Usecase: usecase, Kind: models.KindPlayback, OutDevices: models.DeviceOutSpeaker})
}

func capture(usecase string) *session.Session {
	return session.New(models.Descriptor{Usecase: usecase, Kind: models.KindCapture, InDevices: models.DeviceInBuiltinMic})
}

func TestAddFindRemove(t *testing.T) {
	r := session.NewRegistry()
	s := playback("deep-buffer")

	id, err := r.Add(s)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, id, s.ID())

	got, ok := r.Find(id)
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, r.Remove(id))
	_, ok = r.Find(id)
	assert.False(t, ok)
	assert.Zero(t, s.ID())
	assert.Zero(t, r.Len())
}

func TestAddDuplicate(t *testing.T) {
	r := session.NewRegistry()
	s := playback("deep-buffer")
	_, err := r.Add(s)
	require.NoError(t, err)

	_, err = r.Add(s)
	assert.True(t, models.HasCode(err, models.CodeDuplicateSession))

	_, err = r.Add(playback("deep-buffer"))
	assert.True(t, models.HasCode(err, models.CodeDuplicateSession))
	assert.Equal(t, 1, r.Len())

	// The usecase is free again once its session is gone.
	require.NoError(t, r.Remove(s.ID()))
	again := playback("deep-buffer")
	_, err = r.Add(again)
	require.NoError(t, err)
	assert.Same(t, again, r.FindByUsecase("deep-buffer"))
}

func TestRemoveUnknownIsNotFound(t *testing.T) {
	r := session.NewRegistry()
	id, err := r.Add(playback("a"))
	require.NoError(t, err)

	err = r.Remove(id + 1<<32) // wrong generation
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	err = r.Remove(0)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.Equal(t, 1, r.Len())
}

func TestStaleIDAfterSlotReuse(t *testing.T) {
	r := session.NewRegistry()
	old, err := r.Add(playback("a"))
	require.NoError(t, err)
	require.NoError(t, r.Remove(old))

	reused, err := r.Add(playback("b"))
	require.NoError(t, err)
	assert.Equal(t, old.Index(), reused.Index(), "slot should be reused")
	assert.NotEqual(t, old, reused)

	_, ok := r.Find(old)
	assert.False(t, ok, "stale id resolved to the slot's new occupant")
	assert.True(t, models.HasCode(r.Remove(old), models.CodeNotFound))
}

func TestIterInsertionOrder(t *testing.T) {
	r := session.NewRegistry()
	var ids []session.ID
	for _, uc := range []string{"a", "b", "c", "d"} {
		id, err := r.Add(playback(uc))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, r.Remove(ids[1]))
	_, err := r.Add(playback("e"))
	require.NoError(t, err)

	var got []string
	for _, s := range r.Iter() {
		got = append(got, s.Usecase)
	}
	assert.Equal(t, []string{"a", "c", "d", "e"}, got)
}

func TestIterSnapshotSurvivesRemoval(t *testing.T) {
	r := session.NewRegistry()
	for _, uc := range []string{"a", "b", "c"} {
		_, err := r.Add(playback(uc))
		require.NoError(t, err)
	}
	n := 0
	for _, s := range r.Iter() {
		require.NoError(t, r.Remove(s.ID()))
		n++
	}
	assert.Equal(t, 3, n)
	assert.Zero(t, r.Len())
}

func TestFindByKind(t *testing.T) {
	r := session.NewRegistry()
	_, _ = r.Add(capture("record-1"))
	_, _ = r.Add(playback("deep-buffer"))
	_, _ = r.Add(capture("record-2"))
	_, _ = r.Add(playback("low-latency"))

	assert.Equal(t, "record-2", r.FindByKind(models.KindCapture).Usecase, "capture lookups are most recent first")
	assert.Equal(t, "deep-buffer", r.FindByKind(models.KindPlayback).Usecase)
	assert.Nil(t, r.FindByKind(models.KindVoiceCall))
	assert.Equal(t, "low-latency", r.FindByUsecase("low-latency").Usecase)
	assert.Nil(t, r.FindByUsecase("missing"))
}

func TestInfoReadsLockedFields(t *testing.T) {
	s := playback("deep-buffer")
	s.Lock()
	s.SetVolume(0.25)
	s.SetStandby(true)
	s.Unlock()

	info := s.Info()
	assert.Equal(t, 0.25, info.Volume)
	assert.True(t, info.Standby)
	assert.Equal(t, models.SessionNoRoute, info.State)
	assert.Equal(t, models.KindPlayback, info.Kind)
}
