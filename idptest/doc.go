/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package idptest provides a Keycloak-like HTTP server for tests.
// It serves the password-grant token endpoint and the token introspection endpoint of a single realm
// and mints RS256-signed access tokens that its own introspection endpoint understands.
package idptest
