package globals

// DefaultCacheDir is the cache root used when none is configured. Applets
// carry their images under the same path inside their resources directory.
const DefaultCacheDir = "/tmp/dx-docker-cache"

// BlobsDir is the subdirectory under the cache root where image layers are cached
const BlobsDir = "blobs"

// ContainersDir is the subdirectory under the cache root where execution roots
// are materialized
const ContainersDir = "containers"

// FailedToObtain prefixes the message reported when an image cannot be pulled
const FailedToObtain = "Failed to obtain image"
