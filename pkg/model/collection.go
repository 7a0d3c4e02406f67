package model

import "github.com/m-mizutani/goerr/v2"

type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// DefaultDimension matches the output dimensionality requested from the embedding model
const DefaultDimension = 768

// Collection describes a named vector index with fixed dimensionality
type Collection struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Validate checks the collection definition
func (c Collection) Validate() error {
	if c.Name == "" {
		return goerr.Wrap(ErrConfiguration, "collection name is empty")
	}
	if c.Dimension <= 0 {
		return goerr.Wrap(ErrConfiguration, "collection dimension must be positive", goerr.V("dimension", c.Dimension))
	}
	switch c.Metric {
	case MetricCosine, MetricDot, MetricEuclidean:
		return nil
	default:
		return goerr.Wrap(ErrConfiguration, "unsupported metric", goerr.V("metric", c.Metric))
	}
}
