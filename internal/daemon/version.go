package daemon

// Version is the semantic version reported by the /version endpoint.
const Version = "0.1.0"
