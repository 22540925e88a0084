package auth

// Builtin role names. Global roles have no owning tenant.
const (
	RoleSystemAdmin = "SystemAdmin"
	RoleTenantAdmin = "TenantAdmin"
	RoleFinanceUser = "FinanceUser"
	RoleReadOnly    = "ReadOnly"
)

// Permission keys.
const (
	PermTenantsManage = "tenants.manage"
	PermTenantRead    = "tenant.read"
	PermUsersRead     = "users.read"
	PermUsersManage   = "users.manage"
	PermAuditRead     = "audit.read"
	PermReportsRead   = "reports.read"
)

// System tenant seeded at bootstrap; owns the system administrator.
const (
	SystemTenantID           = "00000000000000000000000SYS"
	SystemTenantName         = "System"
	SystemRegistrationNumber = "SYS-000"
)

var BuiltinPermissions = []Permission{
	{Key: PermTenantsManage, Description: "List, activate and soft-delete tenants"},
	{Key: PermTenantRead, Description: "Read own tenant profile"},
	{Key: PermUsersRead, Description: "List users of own tenant"},
	{Key: PermUsersManage, Description: "Create, update and deactivate users of own tenant"},
	{Key: PermAuditRead, Description: "Read audit log of own tenant"},
	{Key: PermReportsRead, Description: "Read tenant reports"},
}

// BuiltinGrants maps each global role to its permissions.
var BuiltinGrants = map[string][]string{
	RoleSystemAdmin: {PermTenantsManage, PermTenantRead, PermUsersRead, PermUsersManage, PermAuditRead, PermReportsRead},
	RoleTenantAdmin: {PermTenantRead, PermUsersRead, PermUsersManage, PermAuditRead, PermReportsRead},
	RoleFinanceUser: {PermTenantRead, PermUsersRead, PermReportsRead},
	RoleReadOnly:    {PermTenantRead, PermReportsRead},
}
