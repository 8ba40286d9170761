// Package keyword implements the deterministic fallback search used when no
// semantic match is available.
//
// A Cascade evaluates an ordered list of Stage strategies. The first stage
// that returns records ends the search:
//
//  1. IdentifierStage: protocol numbers such as "1234/2024"
//  2. VocabularyStage: controlled record types ("delibera", "ordinanza", ...)
//  3. StatusStage: certified / anchored flags
//  4. YearStage: single years and year ranges
//  5. TitleStage: AND-match of title terms after stop-word removal
//  6. RecentStage: the most recent N records
//
// Precise stages come first so an identifier lookup always wins over fuzzy
// keyword matches. Every stage reads through a RecordSource confined to the
// caller's tenant and user scope.
package keyword
