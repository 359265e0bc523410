package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Login & Logout
	RouteAuthLogin        = "/auth/login"
	RouteAuthSignup       = "/auth/signup"
	RouteAuthRefreshToken = "/auth/refresh-token"
	RouteAuthLogout       = "/auth/logout"
	RouteAuthMe           = "/auth/me"

	// Auth Routes - Password Management
	RouteChangePassword = "/auth/change-password"
	RouteForgotPassword = "/auth/forgot-password"
	RouteResetPassword  = "/auth/reset-password"

	// Admin Routes
	RouteAdminUsers     = "/admin/users"
	RouteAdminBlockUser = "/admin/users/block"

	// Operational Routes
	RouteHealth  = "/health"
	RouteMetrics = "/metrics"
)
