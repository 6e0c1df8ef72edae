package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

// ErrNotFound is returned when a requested row does not exist in scope.
var ErrNotFound = store.ErrNotFound

// Postgres error codes that indicate bad input rather than a broken database.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	pgInvalidText         = "22P02"
	pgDatetimeOverflow    = "22008"
)

// wrapErr classifies a pgx error. No rows becomes store.ErrNotFound,
// constraint violations become validation errors, and anything else is a
// *store.DatabaseError carrying op.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return toolerr.Wrap(toolerr.KindValidation, err, fmt.Sprintf("%s: duplicate value (%s)", op, pgErr.ConstraintName))
		case pgForeignKeyViolation:
			return toolerr.Wrap(toolerr.KindValidation, err, fmt.Sprintf("%s: referenced row does not exist", op))
		case pgCheckViolation, pgNotNullViolation, pgInvalidText, pgDatetimeOverflow:
			return toolerr.Wrap(toolerr.KindValidation, err, fmt.Sprintf("%s: %s", op, pgErr.Message))
		}
	}
	return &store.DatabaseError{Op: op, Err: err}
}

// notFound renders a store.ErrNotFound for entity as a caller-facing
// not_found error naming the id; other errors pass through unchanged.
func notFound(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return toolerr.NotFound(entity, id)
	}
	return err
}
