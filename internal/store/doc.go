// Package store implements authbroker.UserStore on PostgreSQL through the pgx
// database/sql driver. Queries are built with squirrel; driver errors are
// classified with pgerrcode so a duplicate email surfaces as
// authbroker.ErrUserExists and connectivity failures as
// authbroker.ErrStoreUnavailable.
package store
