package repository

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a keyed lookup finds nothing.
	ErrNotFound = gorm.ErrRecordNotFound
	// ErrAlreadyClaimed is returned when a match would reuse a record that is no longer pending.
	ErrAlreadyClaimed = errors.New("record already matched")
)

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
