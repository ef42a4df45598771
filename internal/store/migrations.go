package store

import "database/sql"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_id INTEGER NOT NULL,
		collected_at INTEGER NOT NULL,
		cpu REAL,
		mem REAL,
		cc REAL,
		cs REAL,
		http REAL,
		https REAL,
		ftp REAL,
		interfaces TEXT,
		community TEXT NOT NULL DEFAULT '',
		probes TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_samples_proxy_ts ON samples(proxy_id, collected_at);
	CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(collected_at);`,
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
