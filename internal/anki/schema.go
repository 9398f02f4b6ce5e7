package anki

// Schema 11 of the .anki2 collection format: a single `col` row holding the
// notetype and deck registries as JSON, plus `notes` and `cards` tables.
const schema = `
CREATE TABLE IF NOT EXISTS col (
    id     INTEGER PRIMARY KEY,
    crt    INTEGER NOT NULL,
    mod    INTEGER NOT NULL,
    scm    INTEGER NOT NULL,
    ver    INTEGER NOT NULL,
    dty    INTEGER NOT NULL,
    usn    INTEGER NOT NULL,
    ls     INTEGER NOT NULL,
    conf   TEXT NOT NULL,
    models TEXT NOT NULL,
    decks  TEXT NOT NULL,
    dconf  TEXT NOT NULL,
    tags   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
    id    INTEGER PRIMARY KEY,
    guid  TEXT NOT NULL,
    mid   INTEGER NOT NULL,
    mod   INTEGER NOT NULL,
    usn   INTEGER NOT NULL,
    tags  TEXT NOT NULL,
    flds  TEXT NOT NULL,
    sfld  TEXT NOT NULL,
    csum  INTEGER NOT NULL,
    flags INTEGER NOT NULL,
    data  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cards (
    id     INTEGER PRIMARY KEY,
    nid    INTEGER NOT NULL,
    did    INTEGER NOT NULL,
    ord    INTEGER NOT NULL,
    mod    INTEGER NOT NULL,
    usn    INTEGER NOT NULL,
    type   INTEGER NOT NULL,
    queue  INTEGER NOT NULL,
    due    INTEGER NOT NULL,
    ivl    INTEGER NOT NULL,
    factor INTEGER NOT NULL,
    reps   INTEGER NOT NULL,
    lapses INTEGER NOT NULL,
    left   INTEGER NOT NULL,
    odue   INTEGER NOT NULL,
    odid   INTEGER NOT NULL,
    flags  INTEGER NOT NULL,
    data   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_notes_guid ON notes (guid);
CREATE INDEX IF NOT EXISTS ix_cards_nid ON cards (nid);
CREATE INDEX IF NOT EXISTS ix_cards_did ON cards (did);
`
