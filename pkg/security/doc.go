/*
Package security provides encrypted token storage and per-domain secret
generation.

# Token Store

Tokens live encrypted at rest in .secure-tokens/tokens.json (directory mode
0700); the AES-256 key sits beside it in .secure-tokens/.token-key (mode
0600), generated on first use. Each record stores ciphertext, iv, and auth
tag from AES-256-GCM separately. The lookup handle is the fingerprint: the
first 16 hex characters of SHA-256 over the plaintext, safe for logs.

	┌────────────── .secure-tokens/ (0700) ──────────────┐
	│  tokens.json   encrypted records                    │
	│  .token-key    32-byte symmetric key (0600)         │
	│  audit.log     JSON lines, fingerprints only        │
	└─────────────────────────────────────────────────────┘

Lifecycle rules:

  - At most MaxTokensPerService records per service; the oldest is evicted.
  - A token at or past its expiry is treated as absent; retrieval fails
    and revokes the record.
  - RotateToken atomically replaces a record, preserving set cardinality
    and linking the replacement via rotated_from.
  - An expired-token sweep runs at startup and on a timer.
  - Every operation appends an audit line; plaintext never leaves memory.

# Secret Bundles

GenerateDomainSpecific produces the per-domain secret set with every
rendered format materialized at once (env file, JSON, wrangler commands,
shell exports), cached by (domain, environment) unless regeneration is
forced. The Secrets map is excluded from JSON serialization by the types
package, so bundles can be passed through audit paths safely.
*/
package security
