// Package tests exercises the echo API end to end against the test database.
package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/divecert/apps/api/echo"
	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/course"
	"github.com/trezcool/divecert/core/evaluation"
	"github.com/trezcool/divecert/core/user"
	appfs "github.com/trezcool/divecert/fs"
	emailsvc "github.com/trezcool/divecert/services/email"
	logsvc "github.com/trezcool/divecert/services/logger"
	"github.com/trezcool/divecert/services/metrics"
	sqlxrepos "github.com/trezcool/divecert/storage/database/sqlx"
	testutil "github.com/trezcool/divecert/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type app struct {
	*echoapi.Server
	conf     *core.Config
	usrRepo  user.Repository
	subjects []catalog.Subject
}

func testConfig() *core.Config {
	return &core.Config{
		Env:                       "TEST",
		AppName:                   "DiveCert",
		TestMode:                  true,
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "https://divecert.test",
		DefaultFromEmailAddr:      "DiveCert <noreply@divecert.test>",
		PasswordResetTimeoutDelta: 24 * time.Hour,
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Evaluation: core.EvaluationConfig{RequireInstructorForTests: true},
	}
}

// setup returns an API server backed by an emptied test database loaded with the default catalog.
func setup(t *testing.T) app {
	t.Helper()
	db := testutil.PrepareDB(t)
	conf := testConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	evaluation.InitValidators(validate, translator)
	course.InitValidators(validate, translator)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)
	emailsvc.ResetSentMessages()

	usrRepo := sqlxrepos.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	catalogSvc := catalog.NewService(db, sqlxrepos.NewCatalogRepository(db))
	evalSvc := evaluation.NewService(db, sqlxrepos.NewEvaluationRepository(db), catalogSvc, usrSvc, metrics.EvaluationObserver{}, conf)
	courseSvc := course.NewService(sqlxrepos.NewCourseRepository(db), usrSvc)

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         logger,
		Validate:       validate,
		Translator:     translator,
		MailSvc:        mailSvc,
		UserSvc:        usrSvc,
		CatalogSvc:     catalogSvc,
		EvaluationSvc:  evalSvc,
		CourseSvc:      courseSvc,
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = server.Close() })

	return app{
		Server:   server,
		conf:     conf,
		usrRepo:  usrRepo,
		subjects: testutil.LoadDefaultCatalog(t, db),
	}
}

func (a app) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := a.Token(usr)
	if err != nil {
		t.Fatalf("token(): %v", err)
	}
	return token
}

func (a app) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	a.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func marshalList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marshalList(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), obj); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code; body %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if assert.NoError(t, err) {
		assert.True(t, ok, "data = %s; wantData %s", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, a app, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(tt.method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}
