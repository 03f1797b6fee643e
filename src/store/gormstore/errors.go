package gormstore

import (
	"errors"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var myErr *mysqldrv.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func isUndefinedObject(err error) bool {
	var pgErr *pgconn.PgError
	// undefined_object, undefined_function, feature_not_supported
	return errors.As(err, &pgErr) && (pgErr.Code == "42704" || pgErr.Code == "42883" || pgErr.Code == "0A000")
}
