package adminapi

// InitRouter attaches every admin API route to the web server. Call
// after webserver.Init and before Listen.
func InitRouter(s *Services) {
	svc = s
	registerTokenRoutes()
	registerTenantRoutes()
	registerGatewayRoutes()
	registerOutboxRoutes()
	registerEventLogRoutes()
	registerDbmsRoutes()
}
