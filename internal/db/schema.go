package db

const blobTable = "blob"

// SchemaSQL contains the database schema initialization SQL.
// Blob ids are the hex sha256 of the data, so a record never changes once written.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS blob SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS data ON blob TYPE bytes;
    DEFINE FIELD IF NOT EXISTS size ON blob TYPE int;
    DEFINE FIELD IF NOT EXISTS created ON blob TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS blob_created ON blob FIELDS created;
`
