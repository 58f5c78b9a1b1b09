package layout

import "errors"

var (
	ErrLayout      = errors.New("layout assembly failed")
	ErrBaseArchive = errors.New("unreadable base archive")
)
