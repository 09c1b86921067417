// Package inmemdb keeps domain records in memory. It backs unit tests that need a
// repository but no database.
package inmemdb

import (
	"sync"

	"github.com/trezcool/divecert/core/user"
)

type (
	DB struct {
		user *userTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]user.User
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]user.User)},
	}
}
