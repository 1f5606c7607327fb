package authclient

// Hooks receives progress events from the request pipeline. The terminal
// front end implements it to render status lines; tests use it to observe
// ordering.
type Hooks interface {
	RefreshStarted()
	RefreshSucceeded()
	RefreshFailed(err error)
	RequestRetried(method, url string)
	SessionTerminated(location string)
}

// NopHooks ignores every event.
type NopHooks struct{}

func (NopHooks) RefreshStarted()            {}
func (NopHooks) RefreshSucceeded()          {}
func (NopHooks) RefreshFailed(error)        {}
func (NopHooks) RequestRetried(_, _ string) {}
func (NopHooks) SessionTerminated(string)   {}
