package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestUserPreferencesValidate(t *testing.T) {
	cases := []struct {
		name    string
		chatID  string
		wantErr bool
	}{
		{"empty", "", false},
		{"numeric", "123456789", false},
		{"group", "-100987654321", false},
		{"channel", "@habit_channel", false},
		{"short channel", "@abc", true},
		{"letters", "abc123", true},
		{"spaces", "12 34", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := UserPreferences{TelegramChatID: tc.chatID}.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChatID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUserPreferencesNormalize(t *testing.T) {
	zero := uint(0)
	p := UserPreferences{TelegramChatID: "  42 ", DefaultProjectID: &zero}
	p.Normalize()
	assert.Equal(t, "42", p.TelegramChatID)
	assert.Nil(t, p.DefaultProjectID)
}

func TestCanReceiveCheckInAlerts(t *testing.T) {
	assert.False(t, UserPreferences{NotifyFriendCheckIns: true}.CanReceiveCheckInAlerts())
	assert.False(t, UserPreferences{TelegramChatID: "42"}.CanReceiveCheckInAlerts())
	assert.False(t, UserPreferences{NotifyFriendCheckIns: true, TelegramChatID: "bad id"}.CanReceiveCheckInAlerts())
	assert.True(t, UserPreferences{NotifyFriendCheckIns: true, TelegramChatID: "42"}.CanReceiveCheckInAlerts())
}

func TestUserPrefsRoundTrip(t *testing.T) {
	pid := uint(7)
	u := User{Preferences: datatypes.NewJSONType(UserPreferences{NotifyFriendCheckIns: true, DefaultProjectID: &pid})}
	raw, err := u.Preferences.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"notify_friend_checkins":true,"default_project_id":7}`, string(raw))
	require.NotNil(t, u.Prefs().DefaultProjectID)
	assert.Equal(t, pid, *u.Prefs().DefaultProjectID)
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, FrequencyDaily.Valid())
	assert.False(t, FrequencyMode("weekly").Valid())
	assert.True(t, VisibilityInvitation.Valid())
	assert.False(t, VisibilityMode("public").Valid())
	assert.True(t, RoleCreator.Valid())
	assert.False(t, MemberRole("owner").Valid())
	assert.True(t, FriendRejected.Valid())
	assert.True(t, JoinRequestApproved.Valid())
	assert.False(t, InvitationStatus("approved").Valid())
}

func TestThumbnailKey(t *testing.T) {
	img := CheckInImage{ObjectKey: "checkins/1/2/x.jpg"}
	assert.Equal(t, "thumbnails/checkins/1/2/x.jpg", img.ThumbnailKey())
}
