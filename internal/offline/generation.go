package offline

import "strings"

// PartitionPrefix marks every partition owned by the manager. Partitions
// without it are never purged.
const PartitionPrefix = "ergo-"

// Generation is one versioned pair of cache partitions.
type Generation struct {
	Version string
}

// Precache is the partition filled from the manifest at install time.
func (g Generation) Precache() string {
	return PartitionPrefix + "precache-" + g.Version
}

// Runtime is the partition filled as resources are fetched.
func (g Generation) Runtime() string {
	return PartitionPrefix + "runtime-" + g.Version
}

// Owns reports whether partition is one of this generation's partitions.
func (g Generation) Owns(partition string) bool {
	return partition == g.Precache() || partition == g.Runtime()
}

// Stale reports whether partition belongs to the manager but not to g.
func (g Generation) Stale(partition string) bool {
	return strings.HasPrefix(partition, PartitionPrefix) && !g.Owns(partition)
}
