package guildconfig

// Observer receives config engine events. observability.Metrics implements
// it for Prometheus.
type Observer interface {
	ConfigLoaded(schema string, fresh bool)
	VariableFallback(schema, variable string)
	UpdateCommitted(schema string, changed int)
	UpdateRejected(schema string, code ErrorCode)
	HookFailed(schema, hook string)
	ConfigDeleted(schema string)
}

type nopObserver struct{}

func (nopObserver) ConfigLoaded(string, bool)        {}
func (nopObserver) VariableFallback(string, string)  {}
func (nopObserver) UpdateCommitted(string, int)      {}
func (nopObserver) UpdateRejected(string, ErrorCode) {}
func (nopObserver) HookFailed(string, string)        {}
func (nopObserver) ConfigDeleted(string)             {}
