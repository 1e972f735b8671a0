// Package migration applies versioned SQL migration files to a target database.
//
// Migration files live in one directory and are named
// <unixMillis>_<title>.sql. Each file holds an UP region and a DOWN region:
//
//	/* BEGIN_UP */
//	CREATE TABLE users (id SERIAL PRIMARY KEY);
//	/* END_UP */
//
//	/* BEGIN_DOWN */
//	DROP TABLE users;
//	/* END_DOWN */
//
// Either region may be absent. Applied migrations are recorded in a ledger
// table together with a whitespace-normalised content hash, which lets the
// reconciler report files that were edited or deleted after being applied.
//
// A run reads the ledger once, scans the directory, reconciles the two and
// executes the resulting queue inside a single transaction:
//
//	engine := migration.New(db, migration.Options{Dir: "./migrations", Table: "_migrations"})
//	result, err := engine.Up(ctx, 0)
package migration
