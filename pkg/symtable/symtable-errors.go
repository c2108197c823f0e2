package symtable

import (
	"github.com/pkg/errors"
)

var (
	ErrSymNotFound   = errors.New("symbol not found")
	ErrSymTableEmpty = errors.New("symtable is empty")
	ErrNotLoaded     = errors.New("symtable is not loaded")
)
