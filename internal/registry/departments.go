package registry

import "strings"

// Departments is the fixed set a user can pick from. The stored value is
// always one of these, written verbatim at selection time.
var Departments = []string{
	"IT",
	"Marketing",
	"Sales",
	"Accounting",
	"HR",
	"Development",
	"Support",
	"Other",
}

// TargetAll is the broadcast target sentinel meaning every registered user.
const TargetAll = "ALL"

// adminDepartment is the one department whose members are admins.
const adminDepartment = "IT"

// IsAdminDepartment reports whether the department grants admin rights.
// The compare is case-insensitive; stored values keep their original case.
func IsAdminDepartment(dept string) bool {
	return strings.EqualFold(dept, adminDepartment)
}

// ValidDepartment reports whether dept is a member of the fixed set.
func ValidDepartment(dept string) bool {
	for _, d := range Departments {
		if d == dept {
			return true
		}
	}
	return false
}

// ValidTarget reports whether target is a department or the ALL sentinel.
func ValidTarget(target string) bool {
	return target == TargetAll || ValidDepartment(target)
}
