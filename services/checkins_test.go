package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/dailycheckin/models"
)

func TestDailyCheckInScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "walker")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	res := f.checkIn(t, u, p)
	assert.Equal(t, 1, res.Stats.CurrentStreak)
	assert.Equal(t, 1, res.Stats.HighestStreak)
	assert.EqualValues(t, 1, res.Stats.TotalCheckIns)
	assert.Equal(t, day(2024, 3, 1), res.CheckIn.CheckDate)

	// same day again is rejected and changes nothing
	f.clock.Advance(6 * time.Hour)
	_, err := f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{TZ: time.UTC})
	require.ErrorIs(t, err, ErrAlreadyCheckedIn)
	st, err := f.svc.Stats.UserStat(ctx, u.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentStreak)
	assert.EqualValues(t, 1, st.TotalCheckIns)

	f.clock.Set(time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))
	res = f.checkIn(t, u, p)
	assert.Equal(t, 2, res.Stats.CurrentStreak)
	assert.Equal(t, 2, res.Stats.HighestStreak)

	f.clock.Set(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	res = f.checkIn(t, u, p)
	assert.Equal(t, 1, res.Stats.CurrentStreak)
	assert.Equal(t, 2, res.Stats.HighestStreak)
	assert.EqualValues(t, 3, res.Stats.TotalCheckIns)

	ps, err := f.svc.Stats.ProjectStat(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, ps.TotalCheckIns)
	assert.EqualValues(t, 1, ps.ActiveUsers)
	assert.Equal(t, 2, ps.HighestStreak)
}

func TestDailyGateFollowsRequestTimezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	u := f.user(t, "nightowl")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	// 23:00 and 00:30 local are one UTC date but two Shanghai dates.
	f.clock.Set(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC))
	_, err = f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{TZ: shanghai})
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 3, 1, 16, 30, 0, 0, time.UTC))
	res, err := f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{TZ: shanghai})
	require.NoError(t, err)
	assert.Equal(t, day(2024, 3, 2), res.CheckIn.CheckDate)
	assert.Equal(t, 2, res.Stats.CurrentStreak)

	f.clock.Set(time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC))
	_, err = f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{TZ: shanghai})
	require.ErrorIs(t, err, ErrAlreadyCheckedIn)
}

func TestDailyGateHoldsAcrossTimezoneSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	east := time.FixedZone("UTC+14", 14*3600)
	west := time.FixedZone("UTC-12", -12*3600)
	u := f.user(t, "traveller")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	// 23:00 on Mar 1 in the east
	f.clock.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	first, err := f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{TZ: east})
	require.NoError(t, err)
	assert.Equal(t, day(2024, 3, 1), first.CheckIn.CheckDate)

	// 00:00 on Mar 1 in the west: a new local window, same calendar day
	f.clock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	_, err = f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{TZ: west})
	require.ErrorIs(t, err, ErrAlreadyCheckedIn)

	var n int64
	require.NoError(t, f.db.Model(&models.CheckIn{}).Where("project_id = ?", p.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	// the next western day is open again
	f.clock.Set(time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC))
	res, err := f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{TZ: west})
	require.NoError(t, err)
	assert.Equal(t, day(2024, 3, 2), res.CheckIn.CheckDate)
	assert.Equal(t, 2, res.Stats.CurrentStreak)
}

func TestActiveUsersUseTrailingWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "recent")
	b := f.user(t, "lapsed")
	p := f.project(t, a, models.FrequencyDaily, models.VisibilityPrivate)
	f.addMember(t, p, b)

	f.checkIn(t, b, p)
	f.clock.Advance(31 * 24 * time.Hour)
	f.checkIn(t, a, p)

	ps, err := f.svc.Stats.ProjectStat(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ps.ActiveUsers)
	assert.EqualValues(t, 2, ps.TotalCheckIns)
	assert.Equal(t, 1, ps.HighestStreak)
}

func TestUnlimitedSameDayHoldsStreak(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "sprinter")
	p := f.project(t, u, models.FrequencyUnlimited, models.VisibilityPrivate)

	f.checkIn(t, u, p)
	f.clock.Advance(time.Hour)
	res := f.checkIn(t, u, p)
	assert.Equal(t, 1, res.Stats.CurrentStreak)
	assert.EqualValues(t, 2, res.Stats.TotalCheckIns)

	f.clock.Advance(24 * time.Hour)
	res = f.checkIn(t, u, p)
	assert.Equal(t, 2, res.Stats.CurrentStreak)
	assert.EqualValues(t, 3, res.Stats.TotalCheckIns)
}

func TestCheckInRequiresMembership(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	stranger := f.user(t, "stranger")
	p := f.project(t, owner, models.FrequencyDaily, models.VisibilityPrivate)

	_, err := f.svc.CheckIns.Create(context.Background(), stranger.ID, p.ID, CheckInInput{TZ: time.UTC})
	require.ErrorIs(t, err, ErrNotMember)

	var n int64
	require.NoError(t, f.db.Model(&models.CheckIn{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestDeleteAllCheckInsResetsStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "quitter")
	other := f.user(t, "other")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	var ids []uint
	for i := 0; i < 3; i++ {
		ids = append(ids, f.checkIn(t, u, p).CheckIn.ID)
		f.clock.Advance(24 * time.Hour)
	}

	require.ErrorIs(t, f.svc.CheckIns.Delete(ctx, other.ID, ids[0]), ErrForbidden)

	// removing the middle day splits the streak
	require.NoError(t, f.svc.CheckIns.Delete(ctx, u.ID, ids[1]))
	st, err := f.svc.Stats.UserStat(ctx, u.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentStreak)
	assert.Equal(t, 1, st.HighestStreak)
	assert.EqualValues(t, 2, st.TotalCheckIns)

	require.NoError(t, f.svc.CheckIns.Delete(ctx, u.ID, ids[0]))
	require.NoError(t, f.svc.CheckIns.Delete(ctx, u.ID, ids[2]))
	st, err = f.svc.Stats.UserStat(ctx, u.ID, p.ID)
	require.NoError(t, err)
	assert.Zero(t, st.CurrentStreak)
	assert.Zero(t, st.HighestStreak)
	assert.Zero(t, st.TotalCheckIns)
	assert.Nil(t, st.LastCheckInDate)

	ps, err := f.svc.Stats.ProjectStat(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, ps.TotalCheckIns)
	assert.Zero(t, ps.HighestStreak)

	require.ErrorIs(t, f.svc.CheckIns.Delete(ctx, u.ID, ids[0]), ErrNotFound)
}

func TestListVisibleAppliesDualPrivacy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	carol := f.user(t, "carol")
	dave := f.user(t, "dave")
	p := f.project(t, alice, models.FrequencyUnlimited, models.VisibilityInvitation)
	f.addMember(t, p, bob)
	f.addMember(t, p, carol)
	f.befriend(t, alice, bob)
	f.befriend(t, alice, dave)

	for _, u := range []models.User{alice, bob, carol} {
		f.checkIn(t, u, p)
		f.clock.Advance(time.Minute)
	}

	items, total, err := f.svc.CheckIns.ListVisible(ctx, alice.ID, p.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, "bob", items[0].Username)
	assert.Equal(t, "alice", items[1].Username)

	// carol is a member but no friend: only her own
	items, total, err = f.svc.CheckIns.ListVisible(ctx, carol.ID, p.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "carol", items[0].Username)

	// dave is a friend but not a member
	items, _, err = f.svc.CheckIns.ListVisible(ctx, dave.ID, p.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	page2, total, err := f.svc.CheckIns.ListVisible(ctx, alice.ID, p.ID, 2, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, page2, 1)
	assert.Equal(t, "alice", page2[0].Username)
}

func TestGetCheckInHonoursCanView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	p := f.project(t, alice, models.FrequencyDaily, models.VisibilityPrivate)
	f.addMember(t, p, bob)
	ci := f.checkIn(t, alice, p).CheckIn

	_, err := f.svc.CheckIns.Get(ctx, bob.ID, ci.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.CheckIns.Images(ctx, bob.ID, ci.ID)
	require.ErrorIs(t, err, ErrForbidden)

	f.befriend(t, bob, alice)
	view, err := f.svc.CheckIns.Get(ctx, bob.ID, ci.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", view.Username)
}

func TestTodayStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "today")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	st, err := f.svc.CheckIns.Today(ctx, u.ID, p.ID, time.UTC)
	require.NoError(t, err)
	assert.False(t, st.CheckedIn)
	assert.Equal(t, "2024-03-01", st.Date)

	f.checkIn(t, u, p)
	st, err = f.svc.CheckIns.Today(ctx, u.ID, p.ID, time.UTC)
	require.NoError(t, err)
	assert.True(t, st.CheckedIn)
	assert.Equal(t, 1, st.Stats.CurrentStreak)
	assert.Equal(t, models.FrequencyDaily, st.Frequency)
}

func TestCheckInNotifiesVisibleFriends(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "author")
	fan := f.user(t, "fan", models.UserPreferences{NotifyFriendCheckIns: true, TelegramChatID: "12345"})
	quiet := f.user(t, "quiet", models.UserPreferences{NotifyFriendCheckIns: false, TelegramChatID: "222"})
	outsider := f.user(t, "outsider", models.UserPreferences{NotifyFriendCheckIns: true, TelegramChatID: "333"})
	stranger := f.user(t, "stranger", models.UserPreferences{NotifyFriendCheckIns: true, TelegramChatID: "444"})

	p := f.project(t, author, models.FrequencyDaily, models.VisibilityInvitation)
	f.addMember(t, p, fan)
	f.addMember(t, p, quiet)
	f.addMember(t, p, stranger)
	f.befriend(t, author, fan)
	f.befriend(t, quiet, author)
	f.befriend(t, author, outsider)

	res, err := f.svc.CheckIns.Create(context.Background(), author.ID, p.ID, CheckInInput{Note: "<b>5km</b>", TZ: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)

	sent := f.queue.all()
	require.Len(t, sent, 1)
	assert.Equal(t, fan.ID, sent[0].UserID)
	assert.Equal(t, "12345", sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "<b>author</b>")
	assert.Contains(t, sent[0].Text, "5km")
	assert.Equal(t, "5km", res.CheckIn.Note)
}
