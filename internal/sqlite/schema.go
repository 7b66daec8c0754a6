package sqlite

// Schema DDL. Statements are idempotent so Attach can run them on every open.
const (
	createEntities = `CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    original_name TEXT NOT NULL,
    slug_name TEXT NOT NULL,
    full_hash TEXT NOT NULL,
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    UNIQUE (entity_type, original_name)
);`

	// The full_hash index serves the prefix range scans of reverse lookup.
	idxEntitiesFullHash = `CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_full_hash ON entities(full_hash);`
)

// schemaDDL lists every statement run at Attach, in order.
var schemaDDL = []string{
	createEntities,
	idxEntitiesFullHash,
}

const entityColumns = `id, entity_type, original_name, slug_name, full_hash, first_seen, last_seen`

const (
	upsertEntity = `INSERT INTO entities (` + entityColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entity_type, original_name) DO UPDATE SET last_seen = excluded.last_seen
RETURNING ` + entityColumns

	restoreEntity = `INSERT INTO entities (` + entityColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entity_type, original_name) DO NOTHING`

	selectByPrefix = `SELECT ` + entityColumns + ` FROM entities
WHERE full_hash >= ? AND full_hash < ?`

	selectAll = `SELECT ` + entityColumns + ` FROM entities`
)
