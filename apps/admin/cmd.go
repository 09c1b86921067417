package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrRepo    user.Repository
	catalogSvc catalog.Service
	out        io.Writer
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	out := cli.out
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  migrate COMMAND [ARGS] - run a goose migration command (up, up-by-one, up-to, down, down-to, redo, reset, status, version)\n")
	cli.printf("  adduser -username USERNAME -email EMAIL [-name NAME] [-admin] [-role ROLE] - create or update a user\n")
	cli.printf("  resetpassword -username USERNAME|EMAIL - reset user's password\n")
	cli.printf("  loadcatalog [-file PATH] - load the evaluation catalog (default: the embedded catalog)\n")
}

// promptPassword reads a password from the terminal; an empty password is a usage error.
func (cli *commandLine) promptPassword(fs *flag.FlagSet) (string, error) {
	cli.printf("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	cli.printf("\n")
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name (default: the username).")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant every role to the user.")
	addUserRole := addUserCmd.String("role", "", "The user's role, e.g. \""+user.RoleInstructor+"\" (ignored with -admin).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	loadCatalogCmd := flag.NewFlagSet("loadcatalog", flag.ContinueOnError)
	loadCatalogFile := loadCatalogCmd.String("file", "", "Path of a YAML catalog definition.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		return cli.addUser(addUserOptions{
			name:    *addUserName,
			uname:   *addUserUname,
			email:   *addUserEmail,
			pwd:     pwd,
			isAdmin: *addUserAdmin,
			role:    *addUserRole,
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "loadcatalog":
		if err := loadCatalogCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.loadCatalog(*loadCatalogFile)

	default:
		cli.printUsage()
		return errHelp
	}
}
