package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, u)
	}
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers []user.User, _ ...core.DBExecutor) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = true
	}
	for _, usr := range repo.query() {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = uuid.New().String()
	repo.db.table[usr.ID] = usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.query() {
		if filter == nil || matches(u, filter) {
			users = append(users, u)
		}
	}
	sortUsers(users, ordering)
	return users, nil
}

// matches reports whether u satisfies every set field of filter.
func matches(u user.User, filter *user.QueryFilter) bool {
	// users with search keyword matching any Name, Username or Email ?
	if kw := strings.ToLower(filter.Search); kw != "" {
		if !strings.Contains(strings.ToLower(u.Username), kw) &&
			!strings.Contains(strings.ToLower(u.Email), kw) &&
			!strings.Contains(strings.ToLower(u.Name), kw) {
			return false
		}
	}
	// users with any role that starts with any of the specified roles
	if len(filter.Roles) > 0 {
		found := false
		for _, r := range filter.Roles {
			if u.RoleStartsWith(r) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && u.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && u.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && u.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

var userLess = map[string]func(a, b user.User) bool{
	"name":       func(a, b user.User) bool { return a.Name < b.Name },
	"username":   func(a, b user.User) bool { return a.Username < b.Username },
	"email":      func(a, b user.User) bool { return a.Email < b.Email },
	"created_at": func(a, b user.User) bool { return a.CreatedAt.Before(b.CreatedAt) },
	"is_active":  func(a, b user.User) bool { return !a.IsActive && b.IsActive },
}

// sortUsers orders users like the SQL repository: unknown fields are skipped, newest first by default.
func sortUsers(users []user.User, ordering []core.DBOrdering) {
	var ords []core.DBOrdering
	for _, ord := range ordering {
		if _, ok := userLess[ord.Field]; ok {
			ords = append(ords, ord)
		}
	}
	if len(ords) == 0 {
		ords = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ords {
			less := userLess[ord.Field]
			a, b := users[i], users[j]
			if !ord.Ascending {
				a, b = b, a
			}
			if less(a, b) {
				return true
			}
			if less(b, a) {
				return false
			}
		}
		return false
	})
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, _ ...core.DBExecutor) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var match func(u user.User) bool
	switch {
	case filter.ID != "":
		match = func(u user.User) bool { return u.ID == filter.ID }
	case filter.Username != "":
		match = func(u user.User) bool { return u.Username == filter.Username }
	case filter.Email != "":
		match = func(u user.User) bool { return u.Email == filter.Email }
	case len(filter.UsernameOrEmail) > 0:
		uname, email := filter.UsernameOrEmail[0], filter.UsernameOrEmail[0]
		if len(filter.UsernameOrEmail) == 2 && filter.UsernameOrEmail[1] != "" {
			email = filter.UsernameOrEmail[1]
		}
		if uname == "" {
			uname = email
		}
		if uname == "" {
			return user.User{}, user.ErrNotFound
		}
		match = func(u user.User) bool {
			return (u.Username != "" && u.Username == uname) || (u.Email != "" && u.Email == email)
		}
	default:
		return user.User{}, user.ErrNotFound
	}

	for _, u := range repo.query() {
		if match(u) {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	origUsr, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.CreatedAt = origUsr.CreatedAt
	repo.db.table[usr.ID] = usr
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cnt := 0
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			cnt++
		}
	}
	return cnt, nil
}
