package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	// Tenancy
	&Tenant{},
	// Gateway
	&WaSession{},
	&WaOutboxMessage{},
	&WaEventLog{},
}
