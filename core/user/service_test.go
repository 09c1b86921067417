package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/user"
	appfs "github.com/trezcool/divecert/fs"
	emailsvc "github.com/trezcool/divecert/services/email"
	inmemdb "github.com/trezcool/divecert/storage/database/inmem"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func newService(t *testing.T) user.Service {
	t.Helper()
	conf := &core.Config{
		AppName:                   "DiveCert",
		TestMode:                  true,
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "https://divecert.test",
		PasswordResetTimeoutDelta: 24 * time.Hour,
	}
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, nopLogger{})
	emailsvc.ResetSentMessages()
	return user.NewService(inmemdb.NewUserRepository(inmemdb.Open()), emailsvc.NewConsoleServiceMock(conf), conf)
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	require.True(t, ok, "got %T: %v", err, err)
	return vErr.FieldMap()
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	usr, err := svc.Create(ctx, user.NewUser{
		Name:     "Jacques Mayol",
		Username: "jmayol",
		Email:    "jm@test.cd",
		Password: "Bl00dy-Sh4rk!",
		Roles:    []string{user.RoleStudent},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("Bl00dy-Sh4rk!"))

	tests := []struct {
		name         string
		uname, email string
		excl         []user.User
		want         map[string]string
	}{
		{name: "username taken", uname: "jmayol", email: "other@test.cd", want: map[string]string{"username": user.ErrUsernameExists.Error()}},
		{name: "email taken", uname: "other", email: "jm@test.cd", want: map[string]string{"email": user.ErrEmailExists.Error()}},
		{name: "excluded", uname: "jmayol", email: "jm@test.cd", excl: []user.User{usr}},
		{name: "free", uname: "emaiorca", email: "em@test.cd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckUniqueness(ctx, tt.uname, tt.email, tt.excl...)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, fieldErrors(t, err))
		})
	}

	t.Run("lookups", func(t *testing.T) {
		got, err := svc.GetByUsernameOrEmail(ctx, " JMayol ")
		require.NoError(t, err)
		assert.Equal(t, usr.ID, got.ID)

		got, err = svc.GetByEmail(ctx, "JM@test.cd")
		require.NoError(t, err)
		assert.Equal(t, usr.ID, got.ID)

		_, err = svc.GetByID(ctx, "nope")
		assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	usr, err := svc.Create(ctx, user.NewUser{Name: "Sylvia", Username: "searle", Password: "old-pwd", Roles: []string{user.RoleStudent}})
	require.NoError(t, err)

	inactive := false
	got, err := svc.Update(ctx, usr.ID, user.UpdateUser{
		Name:     "Sylvia Earle",
		Username: "searle",
		Roles:    []string{user.RoleInstructor},
		IsActive: &inactive,
		Password: "new-pwd",
	})
	require.NoError(t, err)
	assert.Equal(t, "Sylvia Earle", got.Name)
	assert.True(t, got.IsInstructor())
	assert.False(t, got.IsActive)
	assert.NoError(t, got.CheckPassword("new-pwd"))
	assert.True(t, got.CreatedAt.Equal(usr.CreatedAt))

	_, err = svc.Update(ctx, "nope", user.UpdateUser{})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))

	got, err = svc.SetLastLogin(ctx, got)
	require.NoError(t, err)
	assert.False(t, got.LastLogin.IsZero())
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	create := func(name, uname string, roles ...string) user.User {
		usr, err := svc.Create(ctx, user.NewUser{Name: name, Username: uname, Password: "pwd", Roles: roles})
		require.NoError(t, err)
		return usr
	}
	admin := create("Admin", "admin", user.RoleAdminOwner)
	instructor := create("Sylvia Earle", "searle", user.RoleInstructor)
	student := create("Jacques Mayol", "jmayol", user.RoleStudent)

	ids := func(users []user.User) []string {
		out := make([]string, 0, len(users))
		for _, u := range users {
			out = append(out, u.ID)
		}
		return out
	}

	tests := []struct {
		name     string
		filter   *user.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "by name", ordering: []core.DBOrdering{{Field: "name", Ascending: true}}, want: []string{admin.ID, student.ID, instructor.ID}},
		{name: "by username desc", ordering: []core.DBOrdering{{Field: "username"}}, want: []string{instructor.ID, student.ID, admin.ID}},
		{name: "unknown ordering skipped", ordering: []core.DBOrdering{{Field: "password_hash"}, {Field: "name", Ascending: true}}, want: []string{admin.ID, student.ID, instructor.ID}},
		{name: "search", filter: &user.QueryFilter{Search: "EARLE"}, want: []string{instructor.ID}},
		{name: "staff roles", filter: &user.QueryFilter{Roles: []string{user.RoleAdmin, user.RoleInstructor}}, ordering: []core.DBOrdering{{Field: "name", Ascending: true}}, want: []string{admin.ID, instructor.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := svc.Query(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(users))
		})
	}

	require.NoError(t, svc.Delete(ctx, student.ID, "nope"))
	users, err := svc.Query(ctx, nil, []core.DBOrdering{{Field: "name", Ascending: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{admin.ID, instructor.ID}, ids(users))
}

func TestService_passwordReset(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	usr, err := svc.Create(ctx, user.NewUser{Name: "Jacques Mayol", Email: "jm@test.cd", Password: "old-pwd", Roles: []string{user.RoleStudent}})
	require.NoError(t, err)
	dormant, err := svc.Create(ctx, user.NewUser{Name: "Enzo", Email: "em@test.cd", Password: "old-pwd"})
	require.NoError(t, err)
	inactive := false
	_, err = svc.Update(ctx, dormant.ID, user.UpdateUser{Name: dormant.Name, Email: dormant.Email, IsActive: &inactive})
	require.NoError(t, err)

	assert.Equal(t, user.ErrNotFound, errors.Cause(svc.RequestPasswordReset(ctx, "nobody@test.cd")))
	assert.Equal(t, user.ErrNotFound, errors.Cause(svc.RequestPasswordReset(ctx, "em@test.cd")))
	assert.Empty(t, emailsvc.GetSentMessages())

	require.NoError(t, svc.RequestPasswordReset(ctx, "JM@test.cd"))
	sent := emailsvc.GetSentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "jm@test.cd", sent[0].To[0].Address)
	data, ok := sent[0].TemplateData.(map[string]string)
	require.True(t, ok)
	uid, token := data["UID"], data["Token"]
	assert.Contains(t, sent[0].TextContent, token)

	tests := []struct {
		name string
		data user.ResetUserPassword
		want map[string]string
	}{
		{name: "bad uid", data: user.ResetUserPassword{UID: "lol", Token: token, Password: "new-pwd"}, want: map[string]string{"uid": "invalid value"}},
		{name: "unknown uid", data: user.ResetUserPassword{UID: user.EncodeUID(user.User{ID: "6f1c1d4e-8f0a-4a8b-9f59-3d4c1e0b7a21"}), Token: token, Password: "new-pwd"}, want: map[string]string{"uid": "invalid value"}},
		{name: "bad token", data: user.ResetUserPassword{UID: uid, Token: "lol", Password: "new-pwd"}, want: map[string]string{"token": "invalid value"}},
		{name: "reset", data: user.ResetUserPassword{UID: uid, Token: token, Password: "new-pwd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ResetPassword(ctx, tt.data)
			if tt.want != nil {
				assert.Equal(t, tt.want, fieldErrors(t, err))
				return
			}
			require.NoError(t, err)
			got, err := svc.GetByID(ctx, usr.ID)
			require.NoError(t, err)
			assert.NoError(t, got.CheckPassword("new-pwd"))
		})
	}

	t.Run("token is single use", func(t *testing.T) {
		err := svc.ResetPassword(ctx, user.ResetUserPassword{UID: uid, Token: token, Password: "newer-pwd"})
		assert.Equal(t, map[string]string{"token": "invalid value"}, fieldErrors(t, err))
	})
}
