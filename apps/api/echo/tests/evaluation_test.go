package tests

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	echoapi "github.com/trezcool/divecert/apps/api/echo"
	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/evaluation"
	"github.com/trezcool/divecert/core/scoring"
	"github.com/trezcool/divecert/core/user"
	emailsvc "github.com/trezcool/divecert/services/email"
	"github.com/trezcool/divecert/services/export"
	testutil "github.com/trezcool/divecert/tests"
)

func scoresFor(subj catalog.Subject, values ...int) []evaluation.ScoreInput {
	scores := make([]evaluation.ScoreInput, 0, len(values))
	for i, v := range values {
		scores = append(scores, evaluation.ScoreInput{CriterionID: subj.Criteria[i].ID, Value: v})
	}
	return scores
}

type evalUsers struct {
	student, other, instructor, admin user.User
}

func createEvalUsers(t *testing.T, a app) evalUsers {
	return evalUsers{
		student:    testutil.CreateUser(t, a.usrRepo, "Jacques Mayol", "jmayol", "jm@test.cd", "", []string{user.RoleStudent}, true),
		other:      testutil.CreateUser(t, a.usrRepo, "Enzo Maiorca", "emaiorca", "em@test.cd", "", []string{user.RoleStudent}, true),
		instructor: testutil.CreateUser(t, a.usrRepo, "Sylvia Earle", "searle", "se@test.cd", "", []string{user.RoleInstructor}, true),
		admin:      testutil.CreateUser(t, a.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdminDirector}, true),
	}
}

func Test_catalogApi(t *testing.T) {
	a := setup(t)
	u := createEvalUsers(t, a)
	token := a.token(t, u.student)
	confined := a.subjects[1]

	runHTTPTests(t, a, []httpTest{
		{name: "Auth required", path: "/api/subjects", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "subjects", path: "/api/subjects", token: token, wantData: marshalObj(t, a.subjects)},
		{name: "subject", path: fmt.Sprintf("/api/subjects/%d", confined.ID), token: token, wantData: marshalObj(t, confined)},
		{name: "unknown subject", path: "/api/subjects/999999", token: token, wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "subject not found"})},
		{name: "malformed id", path: "/api/subjects/lol", token: token, wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "not found"})},
	})

	preview := func(values ...int) []byte {
		return marshalObj(t, echoapi.PreviewRequest{SubjectID: confined.ID, Scores: scoresFor(confined, values...)})
	}
	runHTTPTests(t, a, httpTests{
		{
			name: "passing", token: token, body: preview(7, 7, 7, 7, 7),
			wantData: marshalObj(t, scoring.Verdict{RawScore: 35, Percentage: 70, IsPassing: true}),
		},
		{
			name: "critical fail", token: token, body: preview(10, 1, 10, 10, 10),
			wantData: marshalObj(t, scoring.Verdict{RawScore: 41, Percentage: 82, HasCriticalFail: true}),
		},
		{
			name: "partial scores", token: token, body: preview(10, 10),
			wantData: marshalObj(t, scoring.Verdict{RawScore: 20, Percentage: 40}),
		},
		{
			name: "off scale", token: token, body: preview(7, 5), wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"value": "score must be one of 1, 4, 7 or 10"}),
		},
		{
			name: "foreign criterion", token: token, wantCode: http.StatusBadRequest,
			body: marshalObj(t, echoapi.PreviewRequest{SubjectID: confined.ID, Scores: scoresFor(a.subjects[0], 7)}),
		},
		{
			name: "unknown subject", token: token, wantCode: http.StatusBadRequest,
			body:     marshalObj(t, echoapi.PreviewRequest{SubjectID: 999999, Scores: scoresFor(confined, 7)}),
			wantData: marshalObj(t, map[string]string{"subject_id": "subject not found"}),
		},
	}.withRoute(http.MethodPost, "/api/scoring/preview"))
}

func Test_evaluationApi(t *testing.T) {
	a := setup(t)
	u := createEvalUsers(t, a)
	studentToken, otherToken := a.token(t, u.student), a.token(t, u.other)
	instructorToken, adminToken := a.token(t, u.instructor), a.token(t, u.admin)
	confined, open := a.subjects[1], a.subjects[2]

	create := func(t *testing.T, token string, ne evaluation.NewEvaluation) evaluation.Evaluation {
		t.Helper()
		rec := a.do(http.MethodPost, "/api/evaluations", token, marshalObj(t, ne))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var ev evaluation.Evaluation
		unmarshal(t, rec, &ev)
		return ev
	}

	failed := create(t, instructorToken, evaluation.NewEvaluation{
		SubjectID:   confined.ID,
		StudentID:   u.student.ID,
		Mode:        evaluation.ModeTest,
		EvaluatedOn: "2026-03-14",
		Notes:       "lost a student at 5m",
		Scores:      scoresFor(confined, 10, 1, 10, 10, 10),
	})
	passed := create(t, adminToken, evaluation.NewEvaluation{
		SubjectID:   open.ID,
		StudentID:   u.student.ID,
		EvaluatedOn: "2026-03-15",
		Scores:      scoresFor(open, 7, 7, 7, 10, 10),
	})
	others := create(t, instructorToken, evaluation.NewEvaluation{
		SubjectID:   confined.ID,
		StudentID:   u.other.ID,
		EvaluatedOn: "2026-03-16",
		Scores:      scoresFor(confined, 4, 4, 4, 4, 4),
	})

	t.Run("created", func(t *testing.T) {
		assert.Equal(t, 41, failed.RawScore)
		assert.Equal(t, 82.0, failed.PercentageScore)
		assert.True(t, failed.HasCriticalFail)
		assert.False(t, failed.IsPassing)
		assert.Equal(t, u.instructor.ID, failed.InstructorID.String, "defaults to the requesting instructor")
		assert.Len(t, failed.Scores, 5)

		assert.Equal(t, evaluation.ModePractice, passed.Mode)
		assert.False(t, passed.InstructorID.Valid, "admins are not defaulted")
		assert.Equal(t, 82.0, passed.FinalScore)
		assert.True(t, passed.IsPassing)
	})

	notFound := marshalObj(t, httpErr{Error: "not found"})
	forbidden := marshalObj(t, httpErr{Error: "permission denied"})
	evalPath := func(id int64) string { return fmt.Sprintf("/api/evaluations/%d", id) }

	runHTTPTests(t, a, []httpTest{
		{name: "Auth required", path: "/api/evaluations", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "students cannot evaluate", method: http.MethodPost, path: "/api/evaluations", token: studentToken,
			body: marshalObj(t, evaluation.NewEvaluation{SubjectID: confined.ID, StudentID: u.student.ID, Scores: scoresFor(confined, 10)}),
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "required fields", method: http.MethodPost, path: "/api/evaluations", token: instructorToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{
				"subject_id": "this field is required",
				"student_id": "this field is required",
				"scores":     "this field is required",
			}),
		},
		{
			name: "test mode needs an instructor", method: http.MethodPost, path: "/api/evaluations", token: adminToken,
			body:     marshalObj(t, evaluation.NewEvaluation{SubjectID: confined.ID, StudentID: u.student.ID, Mode: evaluation.ModeTest, Scores: scoresFor(confined, 10)}),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"instructor_id": "an instructor is required for test evaluations"}),
		},
		{
			name: "student must be a student", method: http.MethodPost, path: "/api/evaluations", token: instructorToken,
			body:     marshalObj(t, evaluation.NewEvaluation{SubjectID: confined.ID, StudentID: u.admin.ID, Scores: scoresFor(confined, 10)}),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"student_id": "user is not a student"}),
		},
		// listing
		{name: "all (staff)", path: "/api/evaluations?ordering=evaluated_on", token: instructorToken, wantData: marshalList(t, stripped(failed), stripped(passed), stripped(others))},
		{name: "own (student)", path: "/api/evaluations?ordering=evaluated_on", token: studentToken, wantData: marshalList(t, stripped(failed), stripped(passed))},
		{name: "student filter ignored for students", path: "/api/evaluations?student_id=" + u.student.ID, token: otherToken, wantData: marshalList(t, stripped(others))},
		{name: "passing", path: "/api/evaluations?is_passing=true", token: adminToken, wantData: marshalList(t, stripped(passed))},
		{name: "subject & mode", path: fmt.Sprintf("/api/evaluations?subject_id=%d&mode=test", confined.ID), token: adminToken, wantData: marshalList(t, stripped(failed))},
		{name: "date range", path: "/api/evaluations?from=2026-03-15&to=2026-03-15", token: adminToken, wantData: marshalList(t, stripped(passed))},
		{
			name: "malformed filters", path: "/api/evaluations?subject_id=lol&from=yesterday", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"subject_id": "must be an integer", "from": "must be a date (YYYY-MM-DD) or an RFC 3339 timestamp"}),
		},
		// detail
		{name: "owner", path: evalPath(failed.ID), token: studentToken, wantData: marshalObj(t, failed)},
		{name: "staff", path: evalPath(failed.ID), token: instructorToken, wantData: marshalObj(t, failed)},
		{name: "other student", path: evalPath(failed.ID), token: otherToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "unknown", path: evalPath(999999), token: adminToken, wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "evaluation not found"})},
		// delete
		{name: "delete (instructor)", method: http.MethodDelete, path: evalPath(others.ID), token: instructorToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "delete (admin)", method: http.MethodDelete, path: evalPath(others.ID), token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: evalPath(others.ID), token: adminToken, wantCode: http.StatusNotFound},
	})
}

// stripped drops the item scores, which listings do not include.
func stripped(ev evaluation.Evaluation) evaluation.Evaluation {
	ev.Scores = nil
	return ev
}

func Test_evaluationApi_export(t *testing.T) {
	a := setup(t)
	u := createEvalUsers(t, a)
	confined := a.subjects[1]

	for _, values := range [][]int{{10, 1, 10, 10, 10}, {7, 7, 7, 7, 7}} {
		rec := a.do(http.MethodPost, "/api/evaluations", a.token(t, u.instructor), marshalObj(t, evaluation.NewEvaluation{
			SubjectID:   confined.ID,
			StudentID:   u.student.ID,
			EvaluatedOn: "2026-03-14",
			Scores:      scoresFor(confined, values...),
		}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	readRows := func(t *testing.T, data []byte) [][]string {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows(export.SheetName)
		require.NoError(t, err)
		return rows
	}

	t.Run("students cannot export", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/evaluations/export", a.token(t, u.student))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("download", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/evaluations/export?ordering=raw_score", a.token(t, u.instructor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"evaluations-")

		rows := readRows(t, rec.Body.Bytes())
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"2026-03-14", "Jacques Mayol", "Sylvia Earle", confined.Name, "practice", "35", "70", "yes", "no"}, rows[1])
		assert.Equal(t, []string{"2026-03-14", "Jacques Mayol", "Sylvia Earle", confined.Name, "practice", "41", "82", "no", "yes"}, rows[2])
	})

	t.Run("email", func(t *testing.T) {
		emailsvc.ResetSentMessages()
		rec := a.do(http.MethodPost, "/api/evaluations/export/email", a.token(t, u.admin))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		sent := emailsvc.GetSentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, u.admin.Email, sent[0].To[0].Address)
		assert.Contains(t, sent[0].TextContent, "2 evaluations")
		require.Len(t, sent[0].Attachments, 1)

		att := sent[0].Attachments[0]
		assert.Equal(t, export.ContentType, att.ContentType)
		data, err := base64.StdEncoding.DecodeString(att.Content.String())
		require.NoError(t, err)
		assert.Len(t, readRows(t, data), 3)
	})
}

func Test_externalTestApi(t *testing.T) {
	a := setup(t)
	u := createEvalUsers(t, a)
	path := "/api/external-tests/" + u.student.ID

	runHTTPTests(t, a, []httpTest{
		{name: "not yet", path: path, token: a.token(t, u.student), wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "external test not found"})},
		{name: "students cannot record", method: http.MethodPut, path: path, token: a.token(t, u.student), body: []byte(`{"physics": 90}`), wantCode: http.StatusForbidden},
		{
			name: "out of range", method: http.MethodPut, path: path, token: a.token(t, u.instructor), body: []byte(`{"physics": 101}`),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"physics": "physics must be between 0 and 100"}),
		},
		{
			name: "not a student", method: http.MethodPut, path: "/api/external-tests/" + u.admin.ID, token: a.token(t, u.instructor), body: []byte(`{"physics": 90}`),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"student_id": "user is not a student"}),
		},
	})

	rec := a.do(http.MethodPut, path, a.token(t, u.instructor), []byte(`{"physics": 80, "physiology": 75.555, "equipment": null}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var et evaluation.ExternalTest
	unmarshal(t, rec, &et)
	assert.Equal(t, 75.56, et.Physiology.Float64)
	assert.False(t, et.Equipment.Valid)
	assert.Equal(t, 77.78, et.Average)

	runHTTPTests(t, a, []httpTest{
		{name: "owner", path: path, token: a.token(t, u.student), wantData: marshalObj(t, et)},
		{name: "other student", path: path, token: a.token(t, u.other), wantCode: http.StatusNotFound},
		{name: "list (students)", path: "/api/external-tests", token: a.token(t, u.student), wantCode: http.StatusForbidden},
		{name: "list", path: "/api/external-tests", token: a.token(t, u.admin), wantData: marshalList(t, et)},
		{name: "list (filtered out)", path: "/api/external-tests?student_id=" + u.other.ID, token: a.token(t, u.admin), wantData: marshalList(t)},
	})
}
