// Package jwt issues and verifies the signed access and refresh tokens of the
// Token Service.
//
// Access tokens are short-lived and carry userId, email, role and the session
// id; refresh tokens are signed with a distinct secret and carry userId, the
// session id and a unique jti. Verification checks the algorithm, signature,
// expiry, issuer and audience and classifies failures as [ErrExpired] or
// [ErrMalformed] only.
package jwt
