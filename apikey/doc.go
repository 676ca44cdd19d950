// Package apikey issues and validates service-to-service API keys.
//
// Key material is `<word>_<4 hex>_<64 hex>`. The first two segments form a
// public prefix used for lookup; only a bcrypt hash of the secret is stored,
// and the raw key is returned once by [Service.Generate].
package apikey
