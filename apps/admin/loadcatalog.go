package main

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core/catalog"
	appfs "github.com/trezcool/divecert/fs"
)

// loadCatalog loads the catalog definition at path, or the embedded default catalog.
func (cli *commandLine) loadCatalog(path string) error {
	var data []byte
	var err error
	if path == "" {
		data, err = appfs.FS.ReadFile(appfs.DefaultCatalog)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.Wrap(err, "reading catalog")
	}

	def, err := catalog.ParseDefinition(data)
	if err != nil {
		return err
	}
	subjects, err := cli.catalogSvc.Load(context.Background(), def)
	if err != nil {
		return err
	}
	for _, subj := range subjects {
		cli.printf("%-20s %d criteria, pass at %d/%d\n", subj.Code, len(subj.Criteria), subj.PassingRawScore, subj.MaxRawScore)
	}
	return nil
}
