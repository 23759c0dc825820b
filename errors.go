package pizzakg

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("pizzakg: invalid configuration")

	// ErrUnsupportedFormat is returned for source files that are neither
	// CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("pizzakg: unsupported source format")

	// ErrNoRows is returned when the source holds no relevant rows after
	// filtering.
	ErrNoRows = errors.New("pizzakg: no relevant rows in source")

	// ErrNoResponses is returned when the classification response file
	// holds no usable results.
	ErrNoResponses = errors.New("pizzakg: no classification responses found")
)
