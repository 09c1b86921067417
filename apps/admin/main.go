// Command admin runs the DiveCert administration tasks: migrations, users and catalog loading.
package main

import (
	"log"
	"os"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/storage/database"
	sqlxrepos "github.com/trezcool/divecert/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(err)
	}

	// start CLI
	cli := commandLine{
		db:         db,
		usrRepo:    sqlxrepos.NewUserRepository(db),
		catalogSvc: catalog.NewService(db, sqlxrepos.NewCatalogRepository(db)),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %+v\n", err)
		}
		os.Exit(1)
	}
}
