package daemon

import (
	"github.com/marktsuchida/partaked/token"
	"github.com/marktsuchida/partaked/wire"
)

// Aliases so the rest of this package can talk about tokens, statuses, and
// mappings without every file importing both token and wire.
type (
	Token   = token.Token
	Status  = wire.Status
	Mapping = wire.Mapping
)

const (
	StatusOK              = wire.StatusOK
	StatusInvalidRequest  = wire.StatusInvalidRequest
	StatusOutOfShmem      = wire.StatusOutOfShmem
	StatusNoSuchSegment   = wire.StatusNoSuchSegment
	StatusNoSuchObject    = wire.StatusNoSuchObject
	StatusObjectBusy      = wire.StatusObjectBusy
	StatusObjectReserved  = wire.StatusObjectReserved
)
