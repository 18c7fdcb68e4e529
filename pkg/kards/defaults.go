package kards

// Defaults for the Kards Drift backend. All of them are injectable through
// the Session and Requester constructors; these are just the values the
// retail client uses.
const (
	// DefaultHostname is the live Drift tenant for Kards.
	DefaultHostname = "kards.live.1939api.com"

	// DefaultAppID is the Steam application id the session tickets are bound to.
	DefaultAppID = "544810"

	// clientBuild and friends mirror the retail client's session payload.
	clientType    = "UE4"
	clientBuild   = "Kards 1.1.4233"
	clientAppGUID = "Kards"
	clientVersion = "?"
	providerSteam = "steam"
)
