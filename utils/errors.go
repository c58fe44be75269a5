package utils

import "errors"

// Configuration and geometry errors. All of them are fatal and are
// reported before any raster is touched.
var (
	ErrInvalidThresholdOrdering = errors.New("water threshold must be strictly lower than flood threshold")
	ErrNonFiniteThreshold       = errors.New("threshold is not a finite number")
	ErrOpenRing                 = errors.New("polygon ring is not closed")
	ErrGeometryMismatch         = errors.New("geometry CRS does not match raster CRS")
	ErrShapeMismatch            = errors.New("raster frames do not match")
	ErrInvalidKernel            = errors.New("invalid kernel")
	ErrInvalidScale             = errors.New("sample scale must be a positive finite number")
	ErrInvalidPeriod            = errors.New("invalid time window")
)
