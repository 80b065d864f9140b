// Package license implements the core of the keywarden service: key
// generation, lifecycle transitions and validation decisions.
//
// # Components
//
//   - Keygen: collision-resistant opaque key strings tagged with a tier
//   - Manager: create/activate/renew/deactivate/unbind transitions
//   - Validator: the validity state machine with one-time IP binding
//
// # Validation Flow
//
// A validation request is decided in strict order against the freshly read
// record, inside a single store mutation:
//
//	1. Unknown key            -> not_found
//	2. Administratively off   -> deactivated
//	3. Expiry passed          -> flip active off, expired
//	4. Bound to another IP    -> ip_mismatch
//	5. Unbound + binding on   -> bind to the requester now
//	6. Record last seen state -> valid
//
// Negative outcomes are decisions, not errors: they travel back to the
// client as successful responses with valid=false and a reason code.
package license
