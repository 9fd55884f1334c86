package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSession_Identify_Once(t *testing.T) {
	req := require.New(t)
	s := NewSession("conn-1")

	// Given a fresh session
	name, ok := s.Identity()
	req.False(ok)
	req.Empty(name)
	req.Equal("conn-1", s.ConnectionID())

	// When it is identified twice
	req.True(s.Identify("alice"))
	req.False(s.Identify("bob"))

	// Then the first identity sticks
	name, ok = s.Identity()
	req.True(ok)
	req.Equal("alice", name)
}

func TestSession_MarkAnnounced(t *testing.T) {
	req := require.New(t)
	s := NewSession("conn-1")

	// Anonymous sessions are never announced
	req.False(s.MarkAnnounced())

	s.Identify("alice")
	req.True(s.MarkAnnounced())
	req.False(s.MarkAnnounced())
}

func TestNotices(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	join := JoinNotice("alice", at)
	req.Equal(SystemUsername, join.Username)
	req.Equal("alice joined", join.Text)
	req.Empty(join.ID)
	req.True(at.Equal(join.Timestamp))

	leave := LeaveNotice("alice", at)
	req.Equal("alice left", leave.Text)
}

func TestNewMessage_JSONShape(t *testing.T) {
	req := require.New(t)
	msg := NewMessage("alice", "hello", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	req.NotEmpty(msg.ID)

	raw, err := json.Marshal(msg)
	req.NoError(err)

	var fields map[string]any
	req.NoError(json.Unmarshal(raw, &fields))
	req.Equal("alice", fields["username"])
	req.Equal("hello", fields["text"])
	req.Equal("2026-01-02T03:04:05Z", fields["timestamp"])
}

func TestClock_NeverGoesBackwards(t *testing.T) {
	req := require.New(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Second), base.Add(-time.Hour), base.Add(2 * time.Second)}
	i := 0
	clock := NewClockWithSource(func() time.Time {
		t := ticks[i]
		i++
		return t
	})

	var got []time.Time
	for range ticks {
		got = append(got, clock.Now())
	}

	for j := 1; j < len(got); j++ {
		req.False(got[j].Before(got[j-1]), "timestamp %d went backwards", j)
	}
	req.True(got[2].Equal(base.Add(time.Second)))
	req.True(got[3].Equal(base.Add(2 * time.Second)))
}
