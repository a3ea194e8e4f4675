package shared

// Console permissions, one resource per admin section.
const (
	PermProductsRead   = "products.read"
	PermProductsManage = "products.manage"

	PermCategoriesRead   = "categories.read"
	PermCategoriesManage = "categories.manage"

	PermCartsRead   = "carts.read"
	PermCartsManage = "carts.manage"

	PermSubscriptionsRead   = "subscriptions.read"
	PermSubscriptionsManage = "subscriptions.manage"

	PermAnalyticsRead = "analytics.read"

	PermActivityLogsRead = "activity_logs.read"

	PermUsersRead   = "users.read"
	PermUsersManage = "users.manage"

	PermRolesRead   = "roles.read"
	PermRolesManage = "roles.manage"

	PermPermissionsRead = "permissions.read"
)

// ConsoleScopes lists all permissions the console checks.
func ConsoleScopes() []string {
	return []string{
		PermProductsRead,
		PermProductsManage,
		PermCategoriesRead,
		PermCategoriesManage,
		PermCartsRead,
		PermCartsManage,
		PermSubscriptionsRead,
		PermSubscriptionsManage,
		PermAnalyticsRead,
		PermActivityLogsRead,
		PermUsersRead,
		PermUsersManage,
		PermRolesRead,
		PermRolesManage,
		PermPermissionsRead,
	}
}
