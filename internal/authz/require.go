// Package authz gates control-plane mutations on session role (§4.8: "All
// control-plane mutations... require a session with role ≥ user;
// destructive ops require admin; machine-to-machine transport ops require
// role transport").
package authz

import (
	"time"

	domainauth "github.com/merrymaker/scanner/internal/domain/auth"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// Require checks sess against min, returning a typed AppError with
// ErrCodeAuth on failure. An expired session is treated as unauthenticated
// regardless of its stored role (§8 invariant 5).
func Require(sess domainauth.Session, min domainauth.Role, now time.Time) error {
	if !sess.Valid(now) {
		return mmerrors.Auth("session expired")
	}
	if !sess.Role.AtLeast(min) {
		return mmerrors.Auth("insufficient role")
	}
	return nil
}
