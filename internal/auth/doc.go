// Package auth provides authentication and authorisation for Smarthome Core.
//
// It implements a 2-tier role model (user → admin) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - Short-lived JWT access tokens validated by signature only
//   - Email-based accounts stored in SQLite
//
// Household scoping is handled separately: a user's access to devices is
// decided by household membership (internal/household), not by role. The
// admin role exists for the system operator and bypasses household scoping.
package auth
