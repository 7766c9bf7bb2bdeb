// Package registry maintains the authoritative in-process catalogue of
// context descriptors: externally reachable services such as DEXes, NFT
// marketplaces and oracles that agents may be granted capability-based
// access to. Records are loaded in bulk from a descriptor directory at
// startup and can be registered individually at runtime; there is no
// deletion and no persistence beyond process memory.
package registry
