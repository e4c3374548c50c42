// Package store synchronizes device state through a shared SQL database.
//
// Four tables carry the state: configuration, status, command and errors.
// Every row has a timestamp and a serial per writer side. A process takes
// one of two roles. A client writes the client_* columns and polls the
// server_* columns; a server does the reverse. The Synchronizer polls the
// tables it has callbacks for, and calls them for each row whose serial is
// greater than the last one it saw for that row.
//
// Timestamps are stored as integer Unix microseconds. The default driver is
// the pure Go modernc.org/sqlite; any database/sql driver that accepts "?"
// placeholders and REPLACE INTO works.
package store
