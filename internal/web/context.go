package web

import "net/http"

// RequestContext is what the htmx request headers say about the caller.
type RequestContext struct {
	IsHTMX    bool   // HX-Request header present
	Boosted   bool   // HX-Boosted - a boosted link wants the whole page
	TriggerID string // HX-Trigger - element that initiated the request
	TargetID  string // HX-Target - element the response replaces
}

func parseRequestContext(r *http.Request) RequestContext {
	return RequestContext{
		IsHTMX:    r.Header.Get("HX-Request") == "true",
		Boosted:   r.Header.Get("HX-Boosted") == "true",
		TriggerID: r.Header.Get("HX-Trigger"),
		TargetID:  r.Header.Get("HX-Target"),
	}
}

// WantsFragment reports whether only the list or board markup should be sent.
func (c RequestContext) WantsFragment() bool {
	return c.IsHTMX && !c.Boosted
}
