package configdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE model(
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			model_path TEXT NOT NULL,
			labels_path TEXT NOT NULL,
			input_dimension INT NOT NULL,
			min_confidence REAL NOT NULL
		);
		CREATE UNIQUE INDEX idx_model_name ON model (name);

		CREATE TABLE variable(
			key TEXT PRIMARY KEY,
			value TEXT
		);
	`))

	// The models that ship with the app.
	// Catalog order is insertion order, so the first of these is the default active model.
	migs = append(migs, dbh.MakeMigrationFromFunc(log, &idx, func(tx migration.LimitedTx) error {
		for _, m := range DefaultModels() {
			if _, err := tx.Exec("INSERT INTO model(name, model_path, labels_path, input_dimension, min_confidence) VALUES (?, ?, ?, ?, ?)",
				m.Name, m.ModelPath, m.LabelsPath, m.InputDimension, m.MinConfidence); err != nil {
				return err
			}
		}
		return nil
	}))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE model ADD COLUMN merge_iou REAL NOT NULL DEFAULT 0;
	`))

	return migs
}
