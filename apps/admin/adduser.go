package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/user"
)

type addUserOptions struct {
	name, uname, email, pwd string
	isAdmin                 bool
	role                    string
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(opts addUserOptions) error {
	ctx := context.Background()
	uname := core.CleanString(opts.uname, true /* lower */)
	email := core.CleanString(opts.email, true /* lower */)
	role := core.CleanString(opts.role, true /* lower */)
	if role != "" && user.RolePriority(role) == 0 {
		return fmt.Errorf("unknown role %q", opts.role)
	}

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{uname, email}})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{
			Username:  uname,
			Email:     email,
			Roles:     []string{},
			CreatedAt: now,
		}
	}
	if name := core.CleanString(opts.name); name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = uname
	}
	switch {
	case opts.isAdmin:
		usr.Roles = user.AllRoles
	case role != "":
		usr.Roles = []string{role}
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(opts.pwd); err != nil {
		return err
	}
	if usr, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}
	cli.printf("User %q saved with roles %v\n", usr.Username, usr.Roles)
	return nil
}
