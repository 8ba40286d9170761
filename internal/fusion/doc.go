// Package fusion merges ranked sets from every source into one token-bounded,
// cited context.
//
// Fuse applies a trust weight per source type (persona weights override the
// defaults), merges all candidates with a stable sort on the weighted score,
// and greedily packs them until the next entry would exceed the token budget.
// Entries are never split. The rendered summary groups entries by source type
// and labels each one with its rank marker, so "[3]" always refers to the
// third entry of the context whatever group it is printed in.
package fusion
