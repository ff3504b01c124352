package zvdev

import "github.com/robn/zvdev/internal/constants"

// Re-exported sizing defaults for public API consumers.
const (
	DefaultQueueDepth         = constants.DefaultQueueDepth
	DefaultLogicalBlockSize   = constants.DefaultLogicalBlockSize
	DefaultMaxIOSize          = constants.DefaultMaxIOSize
	DefaultMaxSegs            = constants.DefaultMaxSegs
	MinMaxSegs                = constants.MinMaxSegs
	DefaultDiscardAlignment   = constants.DefaultDiscardAlignment
	DefaultDiscardGranularity = constants.DefaultDiscardGranularity
	DefaultMaxDiscardSectors  = constants.DefaultMaxDiscardSectors
	DefaultMaxDiscardSegments = constants.DefaultMaxDiscardSegments
	IOBufferSizePerTag        = constants.IOBufferSizePerTag
)
