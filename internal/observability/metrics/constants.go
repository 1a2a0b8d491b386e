// Package metrics provides constants used across metric definitions.
package metrics

// Operation type constants used across metric recorders.
const (
	// OpPrediction represents classifier prediction operations.
	OpPrediction = "prediction"
	// OpModelLoad represents model loading operations.
	OpModelLoad = "model_load"
	// OpModelInvoke represents TensorFlow Lite model invocation operations.
	OpModelInvoke = "model_invoke"
	// OpObservationCreate represents observation creation operations.
	OpObservationCreate = "observation_create"
	// OpObservationAmend represents observation amendment operations.
	OpObservationAmend = "observation_amend"
	// OpObservationGet represents observation retrieval operations.
	OpObservationGet = "observation_get"
	// OpDbQuery represents database query operations.
	OpDbQuery = "db_query"
	// OpDbInsert represents database insert operations.
	OpDbInsert = "db_insert"
	// OpDbUpdate represents database update operations.
	OpDbUpdate = "db_update"
	// OpSimilarity represents embedding similarity scans.
	OpSimilarity = "similarity"
	// OpArtifactWrite represents artifact store write operations.
	OpArtifactWrite = "artifact_write"
	// OpArtifactRead represents artifact store read operations.
	OpArtifactRead = "artifact_read"
	// OpArtifactDelete represents artifact store delete operations.
	OpArtifactDelete = "artifact_delete"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~25ms range).
	BucketStart100us = 0.0001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart1KB is the starting bucket for 1KB histograms (1KB to ~1GB range).
	BucketStart1KB = 1024.0

	// BucketFactor2 is the common exponential growth factor for histogram buckets.
	BucketFactor2 = 2
	// BucketFactor4 is the exponential growth factor for wide byte-size ranges.
	BucketFactor4 = 4

	// BucketCount8 defines 8 exponential buckets.
	BucketCount8 = 8
	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)
