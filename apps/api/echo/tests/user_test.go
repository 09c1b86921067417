package tests

import (
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/divecert/apps/api/echo"
	"github.com/trezcool/divecert/core/user"
	emailsvc "github.com/trezcool/divecert/services/email"
	testutil "github.com/trezcool/divecert/tests"
)

const pwd = "Bl00dy-Sh4rk!"

func Test_userApi_login(t *testing.T) {
	a := setup(t)
	testutil.CreateUser(t, a.usrRepo, "Hero", "hero", "hero@test.cd", pwd, []string{user.RoleStudent}, true)
	testutil.CreateUser(t, a.usrRepo, "N Dog", "ndog", "ndog@test.cd", pwd, []string{user.RoleStudent}, false)

	authFailed := marshalObj(t, httpErr{Error: "authentication failed"})
	tests := []httpTest{
		{
			name: "required fields", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "unknown user", body: marshalObj(t, echoapi.LoginRequest{Username: "nobody", Password: pwd}),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "wrong password", body: marshalObj(t, echoapi.LoginRequest{Username: "hero", Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "deactivated", body: marshalObj(t, echoapi.LoginRequest{Username: "ndog@test.cd", Password: pwd}),
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/users/login"
	}
	runHTTPTests(t, a, tests)

	t.Run("success", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/api/users/login", marshalObj(t, echoapi.LoginRequest{Username: " HERO ", Password: pwd}))
		a.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp echoapi.LoginResponse
		unmarshal(t, rec, &resp)
		require.NotEmpty(t, resp.Token)

		// the token is usable right away
		rec = a.do(http.MethodPost, "/api/users/token-refresh", resp.Token)
		assert.Equal(t, http.StatusOK, rec.Code)

		usr, err := a.usrRepo.GetUser(req.Context(), user.GetFilter{Username: "hero"})
		require.NoError(t, err)
		assert.False(t, usr.LastLogin.IsZero())
	})
}

func Test_userApi_query(t *testing.T) {
	a := setup(t)
	now := time.Now()

	student := testutil.CreateUser(t, a.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true, now.Add(-5*time.Hour))
	naughty := testutil.CreateUser(t, a.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false, now.Add(-4*time.Hour))
	instructor := testutil.CreateUser(t, a.usrRepo, "Sylvia", "sylvia", "sylvia@test.cd", "", []string{user.RoleInstructor}, true, now.Add(-3*time.Hour))
	director := testutil.CreateUser(t, a.usrRepo, "Director", "director", "director@test.cd", "", []string{user.RoleAdminDirector}, true, now.Add(-2*time.Hour))
	admin := testutil.CreateUser(t, a.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true, now.Add(-1*time.Hour))
	adminToken := a.token(t, admin)

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/api/users?" + v.Encode()
	}

	runHTTPTests(t, a, []httpTest{
		{name: "Auth required", path: "/api/users", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/api/users", token: a.token(t, instructor),
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Get all", path: "/api/users", token: adminToken,
			wantData: marshalList(t, admin, director, instructor, naughty, student),
		},
		{name: "search (unknown)", path: path("search", "lol"), token: adminToken, wantData: marshalList(t)},
		{name: "search=DOG", path: path("search", "DOG"), token: adminToken, wantData: marshalList(t, naughty)},
		{name: "role=admin:", path: path("role", user.RoleAdmin), token: adminToken, wantData: marshalList(t, admin, director)},
		{
			name: "role=instructor:,student:", path: path("role", user.RoleInstructor, "role", user.RoleStudent), token: adminToken,
			wantData: marshalList(t, instructor, naughty, student),
		},
		{name: "is_active=false", path: path("is_active", "false"), token: adminToken, wantData: marshalList(t, naughty)},
		{
			name: "is_active (invalid)", path: path("is_active", "maybe"), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"is_active": "must be a boolean"}),
		},
		{
			name: "created range", token: adminToken,
			path:     path("created_from", now.Add(-170*time.Minute).Format(time.RFC3339), "created_to", now.Add(-90*time.Minute).Format(time.RFC3339)),
			wantData: marshalList(t, director),
		},
		{name: "order by name", path: path("ordering", "name"), token: adminToken, wantData: marshalList(t, admin, director, student, naughty, instructor)},
		{name: "order by is_active,created_at", path: path("ordering", "is_active,created_at"), token: adminToken, wantData: marshalList(t, naughty, student, instructor, director, admin)},
	})

	runHTTPTests(t, a, []httpTest{
		{name: "roles", path: "/api/users/roles", token: adminToken, wantData: marshalObj(t, user.Roles)},
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	a := setup(t)
	naughty := testutil.CreateUser(t, a.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false)
	student := testutil.CreateUser(t, a.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)

	stale, err := a.Token(student, time.Now().Add(-2*a.conf.Server.JWTRefreshExpirationDelta).Unix())
	require.NoError(t, err)

	runHTTPTests(t, a, httpTests{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "Invalid token", token: "not.a.token", wantCode: http.StatusUnauthorized},
		{name: "Inactive user not allowed", token: a.token(t, naughty), wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: stale, wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "refresh has expired"})},
	}.withRoute(http.MethodPost, "/api/users/token-refresh"))

	rec := a.do(http.MethodPost, "/api/users/token-refresh", a.token(t, student))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp echoapi.LoginResponse
	unmarshal(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
}

func Test_userApi_resetPassword(t *testing.T) {
	a := setup(t)
	student := testutil.CreateUser(t, a.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, a.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false)

	success := marshalObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})
	linkRegex := regexp.MustCompile(`https://divecert\.test/password-reset/[^/\s]+/[^/\s]+`)

	tests := []struct {
		httpTest
		sentTo []mail.Address
	}{
		{httpTest: httpTest{name: "required fields", body: []byte(`{}`), wantCode: http.StatusBadRequest, wantData: marshalObj(t, echoapi.PasswordResetRequest{Email: "this field is required"})}},
		{httpTest: httpTest{
			name: "invalid email", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, echoapi.PasswordResetRequest{Email: "email must be a valid email address"}),
		}},
		{httpTest: httpTest{name: "unknown email", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "lol@test.cd"}), wantCode: http.StatusOK, wantData: success}},
		{httpTest: httpTest{name: "inactive user", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "ndog@test.cd"}), wantCode: http.StatusOK, wantData: success}},
		{
			httpTest: httpTest{name: "known email", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "HERO@test.cd"}), wantCode: http.StatusOK, wantData: success},
			sentTo:   []mail.Address{{Name: student.Name, Address: student.Email}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()
			req, rec := newRequest(http.MethodPost, "/api/users/password-reset", tt.body)
			a.ServeHTTP(rec, req)
			checkCodeAndData(t, tt.httpTest, rec)

			sent := emailsvc.GetSentMessages()
			if tt.sentTo == nil {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, tt.sentTo, sent[0].To)
			assert.Regexp(t, linkRegex, sent[0].TextContent)
			assert.Contains(t, sent[0].HTMLContent, "https://divecert.test/password-reset/")
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	a := setup(t)
	student := testutil.CreateUser(t, a.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, a.usrRepo, "Other", "other", "other@test.cd", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, a.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	owner := testutil.CreateUser(t, a.usrRepo, "Owner", "owner", "owner@test.cd", "", []string{user.RoleAdminOwner}, true)
	studentToken, adminToken := a.token(t, student), a.token(t, admin)
	notFound := marshalObj(t, httpErr{Error: "not found"})
	forbidden := marshalObj(t, httpErr{Error: "permission denied"})

	runHTTPTests(t, a, []httpTest{
		{name: "self", path: "/api/users/" + student.ID, token: studentToken, wantData: marshalObj(t, student)},
		{name: "other as student", path: "/api/users/" + other.ID, token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "other as admin", path: "/api/users/" + other.ID, token: adminToken, wantData: marshalObj(t, other)},
		{name: "unknown as admin", path: "/api/users/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "student cannot set roles", method: http.MethodPut, path: "/api/users/" + student.ID, token: studentToken,
			body: []byte(`{"roles": ["admin:"]}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "admin cannot grant owner", method: http.MethodPut, path: "/api/users/" + other.ID, token: adminToken,
			body:     []byte(`{"roles": ["admin:owner"]}`),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{name: "student cannot delete", method: http.MethodDelete, path: "/api/users/" + student.ID, token: studentToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "admin cannot delete themselves", method: http.MethodDelete, path: "/api/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "admin cannot delete higher role", method: http.MethodDelete, path: "/api/users/" + owner.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "admin deletes", method: http.MethodDelete, path: "/api/users/" + other.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/api/users/" + other.ID, token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
	})

	t.Run("update name", func(t *testing.T) {
		rec := a.do(http.MethodPut, "/api/users/"+student.ID, studentToken, []byte(`{"name": " Jacques Mayol "}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got user.User
		unmarshal(t, rec, &got)
		assert.Equal(t, "Jacques Mayol", got.Name)
		assert.Equal(t, student.Roles, got.Roles)
	})

	t.Run("register", func(t *testing.T) {
		body := marshalObj(t, user.NewUser{
			Name: "Jacques", Username: "jcousteau", Email: "jc@test.cd",
			Password: pwd, PasswordConfirm: pwd, Roles: []string{user.RoleInstructor},
		})
		rec := a.do(http.MethodPost, "/api/users/register", adminToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var got user.User
		unmarshal(t, rec, &got)
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, []string{user.RoleInstructor}, got.Roles)

		rec = a.do(http.MethodPost, "/api/users/register", adminToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

type httpTests []httpTest

// withRoute sets the method and path of every test.
func (tests httpTests) withRoute(method, path string) []httpTest {
	for i := range tests {
		tests[i].method = method
		tests[i].path = path
	}
	return tests
}
