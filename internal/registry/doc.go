// Package registry is the durable store for users (with their department and
// derived admin flag) and the append-only broadcast log.
//
// The invariant maintained by SetDepartment: is_admin is true exactly when
// the department equals "IT" case-insensitively. Registration is idempotent
// and never overwrites fields of an existing user.
package registry
