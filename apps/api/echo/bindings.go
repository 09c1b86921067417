package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/divecert/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// queryParams reads typed query parameters, collecting the parse errors.
type queryParams struct {
	ctx  echo.Context
	errs []core.FieldError
}

func newQueryParams(ctx echo.Context) *queryParams {
	return &queryParams{ctx: ctx}
}

func (q *queryParams) fail(name, msg string) {
	q.errs = append(q.errs, core.FieldError{Field: name, Error: msg})
}

func (q *queryParams) String(name string) string {
	return strings.TrimSpace(q.ctx.QueryParam(name))
}

func (q *queryParams) Strings(name string) []string {
	var vals []string
	for _, v := range q.ctx.QueryParams()[name] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				vals = append(vals, s)
			}
		}
	}
	return vals
}

func (q *queryParams) Int64(name string) int64 {
	val := q.String(name)
	if val == "" {
		return 0
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		q.fail(name, "must be an integer")
	}
	return i
}

func (q *queryParams) Bool(name string) *bool {
	val := q.String(name)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		q.fail(name, "must be a boolean")
		return nil
	}
	return &b
}

// Time accepts RFC 3339 timestamps and plain dates.
func (q *queryParams) Time(name string) time.Time {
	val := q.String(name)
	if val == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, val); err == nil {
			return t
		}
	}
	q.fail(name, "must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
	return time.Time{}
}

// Err returns a *core.ValidationError listing the malformed parameters, if any.
func (q *queryParams) Err() error {
	if q.errs == nil {
		return nil
	}
	return core.NewValidationError(nil, q.errs...)
}

// paramID parses the int64 path parameter name; malformed ids are not found.
func paramID(ctx echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}
