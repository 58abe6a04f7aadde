package main

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/sharescreen/pkg/controller"
	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

type fakeActions struct {
	shares, stops, videos, audios int
	profiles                      []string
	profileErr                    error
}

func (f *fakeActions) RequestShare()     { f.shares++ }
func (f *fakeActions) RequestStopShare() { f.stops++ }
func (f *fakeActions) ToggleLocalVideo() { f.videos++ }
func (f *fakeActions) ToggleLocalAudio() { f.audios++ }
func (f *fakeActions) SelectProfile(name string) error {
	if f.profileErr != nil {
		return f.profileErr
	}
	f.profiles = append(f.profiles, name)
	return nil
}

type remoteTrack struct {
	from session.ParticipantID
}

func (r remoteTrack) ID() string                         { return "video" }
func (r remoteTrack) Kind() media.Kind                   { return media.KindVideo }
func (r remoteTrack) Participant() session.ParticipantID { return r.from }
func (r remoteTrack) Stats() media.TrackStats            { return media.TrackStats{Packets: 1500, Bytes: 2_500_000} }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m model, msgs ...tea.Msg) model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(model)
		require.True(t, ok)
	}
	return m
}

func testModel(actions *fakeActions) model {
	replica := session.NewReplica(nil)
	replica.Reset(session.Snapshot{
		Seq: 2,
		Participants: []session.SnapshotMember{
			{ID: "p-alice", Member: session.Member{Nickname: "alice"}},
			{ID: "p-bob", Member: session.Member{Initials: "BO"}},
		},
		Sharer: "p-alice",
	})
	return newModel(actions, replica, "p-bob", "STANDUP", "720p")
}

func TestModel_Keys(t *testing.T) {
	t.Parallel()
	actions := &fakeActions{}
	var saved []string
	m := testModel(actions)
	m.onProfile = func(name string) { saved = append(saved, name) }

	m = update(t, m, key("s"), key("x"), key("v"), key("a"), key("a"))
	assert.Equal(t, 1, actions.shares)
	assert.Equal(t, 1, actions.stops)
	assert.Equal(t, 1, actions.videos)
	assert.Equal(t, 2, actions.audios)

	assert.Equal(t, media.DefaultProfileIndex(), m.profile)
	m = update(t, m, key("p"))
	assert.Equal(t, []string{"720p_60"}, actions.profiles)
	assert.Equal(t, []string{"720p_60"}, saved)

	m = update(t, m, key("1"), key("9"))
	assert.Equal(t, 0, m.profile)
	assert.Equal(t, []string{"720p_60", "480p"}, actions.profiles)

	actions.profileErr = errors.New("nope")
	m = update(t, m, key("4"))
	assert.Equal(t, 0, m.profile)
	assert.Equal(t, "nope", m.lastError)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestModel_Status(t *testing.T) {
	t.Parallel()
	actions := &fakeActions{}
	m := testModel(actions)
	assert.Contains(t, m.View(), "[CONNECTING]")

	m = update(t, m, initializedMsg{})
	assert.Equal(t, []string{"alice *", "BO (you)"}, m.participants)
	assert.Contains(t, m.View(), "[READY]")
	assert.Contains(t, m.View(), "STANDUP")

	m = update(t, m, flagMsg{flag: controller.FlagSomeoneSharing, on: true})
	assert.Contains(t, m.View(), "[VIEWING]")

	m = update(t, m, flagMsg{flag: controller.FlagSharingLocally, on: true}, flagMsg{flag: controller.FlagHasAudio, on: true})
	view := m.View()
	assert.Contains(t, view, "[SHARING]")
	assert.Contains(t, view, "stop")
	assert.Contains(t, view, "audio")

	m = update(t, m, errorMsg("Unable to share screen"))
	assert.Contains(t, m.View(), "Error: Unable to share screen")
	m = update(t, m, key("s"))
	assert.Empty(t, m.lastError)
}

func TestModel_Screen(t *testing.T) {
	t.Parallel()
	m := update(t, testModel(&fakeActions{}), initializedMsg{})
	assert.Contains(t, m.View(), "nothing on screen")

	m = update(t, m, videoMsg{track: remoteTrack{from: "p-alice"}})
	view := m.View()
	assert.Contains(t, view, "Viewing alice")
	assert.Contains(t, view, "1.5K packets, 2.5 MB")

	m = update(t, m, clearMsg{})
	assert.Contains(t, m.View(), "nothing on screen")
}

func TestModel_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("auto share", func(t *testing.T) {
		t.Parallel()
		actions := &fakeActions{}
		m := testModel(actions)
		m.autoShare = true
		update(t, m, initializedMsg{})
		assert.Equal(t, 1, actions.shares)
	})

	t.Run("failure quits", func(t *testing.T) {
		t.Parallel()
		m := testModel(&fakeActions{})
		next, cmd := m.Update(initializedMsg{err: errors.New("join failed")})
		require.NotNil(t, cmd)
		assert.Equal(t, tea.QuitMsg{}, cmd())
		assert.EqualError(t, next.(model).fatal, "join failed")
	})

	t.Run("disconnect quits", func(t *testing.T) {
		t.Parallel()
		m := testModel(&fakeActions{})
		next, cmd := m.Update(disconnectedMsg{err: errors.New("eof")})
		require.NotNil(t, cmd)
		assert.ErrorContains(t, next.(model).fatal, "session connection lost")
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "999 B", formatBytes(999))
	assert.Equal(t, "1.5 KB", formatBytes(1500))
	assert.Equal(t, "2.00 GB", formatBytes(2_000_000_000))
	assert.Equal(t, "12", formatNumber(12))
	assert.Equal(t, "3.2M", formatNumber(3_200_000))
	assert.Equal(t, "1:05", formatDuration(65e9))
	assert.Equal(t, "abcde...", truncate("abcdefghijk", 8))
}
