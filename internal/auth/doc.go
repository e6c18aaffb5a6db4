// Package auth issues and validates API access tokens.
//
// Tokens are HS256 JWTs carrying a subject, a role and a random JTI. Roles
// map statically onto permissions:
//
//	viewer    fence:read
//	operator  fence:read, fence:manage, scanner:configure
//	admin     all of the above, dispatcher:admin
//
// There are no user accounts; tokens are minted offline with
// `beaconfence token` by whoever holds the signing secret.
package auth
