// Package household manages households and their memberships.
//
// A household is the unit of device access: users see and control only
// devices belonging to households they are members of. The MembershipChecker
// interface is the authorisation gate consumed by the sync engine and the
// API layer — both check membership before touching any device.
package household
