package store

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA foreign_keys=ON;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA temp_store=MEMORY;`,
	`CREATE TABLE IF NOT EXISTS sorted_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		set_key TEXT NOT NULL,
		score REAL NOT NULL,
		member TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sorted_members_key_score
		ON sorted_members(set_key, score, id);`,
	`CREATE TABLE IF NOT EXISTS kv_strings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS admin_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS admin_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES admin_users(id) ON DELETE CASCADE
	);`,
}
