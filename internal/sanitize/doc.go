// Package sanitize implements the trust boundary between internal sources and
// anything sent to an external provider.
//
// A Gate holds two field sets. The deny-list names fields that must never
// leave the process; the allow-list names metadata fields that may. A denied
// field anywhere in a batch fails the whole batch with a
// *types.PrivacyViolationError. Allowed-but-unlisted metadata is stripped
// silently.
//
// The only way to obtain a Context is through Gate.SanitizeContext, so code
// that accepts a sanitize.Context cannot be handed unchecked evidence.
package sanitize
